package fingerprint

import (
	"regexp"

	"github.com/CZERTAINLY/eolaudit/internal/model"
)

const (
	FamilyWindows = model.FamilyWindows
	FamilyLinux   = model.FamilyLinux
	FamilyESXi    = model.FamilyESXi
	FamilyNetwork = model.FamilyNetwork
)

var (
	windowsServer = Candidate{Family: FamilyWindows, Vendor: "microsoft", Product: "Windows Server"}
	windows       = Candidate{Family: FamilyWindows, Vendor: "microsoft"}
	ubuntu        = Candidate{Family: FamilyLinux, Vendor: "canonical", Product: "Ubuntu"}
	debian        = Candidate{Family: FamilyLinux, Vendor: "debian", Product: "Debian"}
	centos        = Candidate{Family: FamilyLinux, Vendor: "centos", Product: "CentOS"}
	centosStream  = Candidate{Family: FamilyLinux, Vendor: "centos", Product: "CentOS Stream"}
	rhel          = Candidate{Family: FamilyLinux, Vendor: "redhat", Product: "Red Hat Enterprise Linux"}
	linux         = Candidate{Family: FamilyLinux}
	esxi          = Candidate{Family: FamilyESXi, Vendor: "vmware", Product: "ESXi"}
)

// opensshUbuntu maps the OpenSSH package shipped by an Ubuntu LTS release
var opensshUbuntu = map[string]string{
	"7.2p2": "16.04",
	"7.6p1": "18.04",
	"8.2p1": "20.04",
	"8.9p1": "22.04",
	"9.6p1": "24.04",
}

// iisWindows maps IIS versions bundled with exactly one Windows Server release
var iisWindows = map[string]string{
	"7.0": "2008",
	"7.5": "2008 R2",
	"8.0": "2012",
	"8.5": "2012 R2",
}

// windowsBuilds maps Windows Server build numbers reported in sysDescr
var windowsBuilds = map[string]string{
	"6001":  "2008",
	"6002":  "2008",
	"7601":  "2008 R2",
	"9200":  "2012",
	"9600":  "2012 R2",
	"14393": "2016",
	"17763": "2019",
	"20348": "2022",
	"26100": "2025",
}

// DefaultRules are evaluated by Infer. Specific version rules come first and carry
// the highest confidence, keyword rules follow and the port and TTL heuristics are last.
var DefaultRules = []Rule{
	// banners naming an exact release
	{
		Name:          "windows-server-banner",
		Kind:          KindBanner,
		Candidate:     windowsServer,
		Confidence:    0.9,
		Pattern:       regexp.MustCompile(`(?i)windows server (20(?:08|12|16|19|22|25))(?:\s+(r2))?`),
		VersionGroups: []int{1, 2},
	},
	{
		Name:          "windows-build-sysdescr",
		Kind:          KindSysDescr,
		Candidate:     windowsServer,
		Confidence:    0.8,
		Pattern:       regexp.MustCompile(`(?i)windows version [\d.]+ \(build (\d+)`),
		VersionGroups: []int{1},
		VersionMap:    windowsBuilds,
	},
	{
		Name:          "openssh-ubuntu",
		Kind:          KindBanner,
		Candidate:     ubuntu,
		Confidence:    0.85,
		Pattern:       regexp.MustCompile(`(?i)OpenSSH[_ ](\d+\.\d+p\d+)\S*\s+Ubuntu`),
		VersionGroups: []int{1},
		VersionMap:    opensshUbuntu,
	},
	{
		Name:          "openssh-debian",
		Kind:          KindBanner,
		Candidate:     debian,
		Confidence:    0.85,
		Pattern:       regexp.MustCompile(`(?i)OpenSSH[_ ]\S+\s+Debian[- ]\S*\+deb(\d+)u`),
		VersionGroups: []int{1},
	},
	{
		Name:          "ubuntu-release",
		Kind:          KindBanner,
		Candidate:     ubuntu,
		Confidence:    0.9,
		Pattern:       regexp.MustCompile(`(?i)ubuntu[ /-]?(\d{2}\.\d{2})`),
		VersionGroups: []int{1},
	},
	{
		Name:          "debian-release",
		Kind:          KindBanner,
		Candidate:     debian,
		Confidence:    0.85,
		Pattern:       regexp.MustCompile(`(?i)debian(?: gnu/linux)? (\d{1,2})\b`),
		VersionGroups: []int{1},
	},
	{
		Name:          "centos-stream-release",
		Kind:          KindBanner,
		Candidate:     centosStream,
		Confidence:    0.9,
		Pattern:       regexp.MustCompile(`(?i)centos stream (\d+)`),
		VersionGroups: []int{1},
	},
	{
		Name:          "centos-release",
		Kind:          KindBanner,
		Candidate:     centos,
		Confidence:    0.85,
		Pattern:       regexp.MustCompile(`(?i)centos(?: linux)?(?: release)? (\d)(?:\.\d+)*`),
		VersionGroups: []int{1},
	},
	{
		Name:          "rhel-release",
		Kind:          KindBanner,
		Candidate:     rhel,
		Confidence:    0.85,
		Pattern:       regexp.MustCompile(`(?i)(?:red hat enterprise linux|rhel)(?: server)?(?: release)? ?(\d)(?:\.\d+)?`),
		VersionGroups: []int{1},
	},
	{
		Name:          "esxi-release",
		Kind:          KindBanner,
		Candidate:     esxi,
		Confidence:    0.9,
		Pattern:       regexp.MustCompile(`(?i)esxi (\d+\.\d+)`),
		VersionGroups: []int{1},
	},
	{
		Name:          "iis-release",
		Kind:          KindBanner,
		Candidate:     windowsServer,
		Confidence:    0.8,
		Pattern:       regexp.MustCompile(`(?i)Microsoft-IIS/(\d+\.\d+)`),
		VersionGroups: []int{1},
		VersionMap:    iisWindows,
	},
	// nmap OS detection
	{
		Name:          "nmap-windows-server",
		Kind:          KindNmapOS,
		Candidate:     windowsServer,
		Confidence:    0.85,
		Pattern:       regexp.MustCompile(`(?i)windows server (20(?:08|12|16|19|22|25))(?:\s+(r2))?`),
		VersionGroups: []int{1, 2},
	},
	{
		Name:          "nmap-esxi",
		Kind:          KindNmapOS,
		Candidate:     esxi,
		Confidence:    0.85,
		Pattern:       regexp.MustCompile(`(?i)esxi (\d+\.\d+)`),
		VersionGroups: []int{1},
	},
	{
		Name:       "nmap-linux",
		Kind:       KindNmapOS,
		Candidate:  linux,
		Confidence: 0.5,
		Pattern:    regexp.MustCompile(`(?i)\blinux\b`),
	},
	{
		Name:       "nmap-windows",
		Kind:       KindNmapOS,
		Candidate:  windows,
		Confidence: 0.5,
		Pattern:    regexp.MustCompile(`(?i)\bwindows\b`),
	},
	// keywords naming a product family only
	{
		Name:       "iis-10",
		Kind:       KindBanner,
		Candidate:  windowsServer,
		Confidence: 0.7,
		Pattern:    regexp.MustCompile(`(?i)Microsoft-IIS/10\.0`),
	},
	{
		Name:       "ubuntu-keyword",
		Kind:       KindBanner,
		Candidate:  ubuntu,
		Confidence: 0.6,
		Pattern:    regexp.MustCompile(`(?i)ubuntu`),
	},
	{
		Name:       "esxi-keyword",
		Kind:       KindBanner,
		Candidate:  esxi,
		Confidence: 0.6,
		Pattern:    regexp.MustCompile(`(?i)vmware|esxi`),
	},
	{
		Name:       "debian-keyword",
		Kind:       KindBanner,
		Candidate:  debian,
		Confidence: 0.55,
		Pattern:    regexp.MustCompile(`(?i)debian`),
	},
	{
		Name:       "centos-keyword",
		Kind:       KindBanner,
		Candidate:  centos,
		Confidence: 0.55,
		Pattern:    regexp.MustCompile(`(?i)centos`),
	},
	{
		Name:       "rhel-keyword",
		Kind:       KindBanner,
		Candidate:  rhel,
		Confidence: 0.55,
		Pattern:    regexp.MustCompile(`(?i)red hat|\brhel\b`),
	},
	{
		Name:       "windows-keyword",
		Kind:       KindBanner,
		Candidate:  windows,
		Confidence: 0.5,
		Pattern:    regexp.MustCompile(`(?i)windows|microsoft`),
	},
	{
		Name:       "openssh",
		Kind:       KindBanner,
		Candidate:  linux,
		Confidence: 0.4,
		Pattern:    regexp.MustCompile(`(?i)openssh`),
	},
	// open ports
	{
		Name:       "esxi-ports",
		Kind:       KindPortSet,
		Candidate:  esxi,
		Confidence: 0.5,
		Require:    []uint16{902, 443, 22},
		Forbid:     []uint16{3389},
	},
	{
		Name:       "rdp",
		Kind:       KindPortSet,
		Candidate:  windows,
		Confidence: 0.45,
		Require:    []uint16{3389},
	},
	{
		Name:       "msrpc",
		Kind:       KindPortSet,
		Candidate:  windows,
		Confidence: 0.4,
		Require:    []uint16{135},
	},
	{
		Name:       "smb-netbios",
		Kind:       KindPortSet,
		Candidate:  windows,
		Confidence: 0.4,
		Require:    []uint16{445, 139},
	},
	{
		Name:       "ssh-only",
		Kind:       KindPortSet,
		Candidate:  linux,
		Confidence: 0.3,
		Require:    []uint16{22},
		Forbid:     []uint16{3389, 135},
	},
	// initial TTL of the ICMP echo reply
	{
		Name:       "ttl-unix",
		Kind:       KindTTL,
		Candidate:  linux,
		Confidence: 0.2,
		TTLMin:     1,
		TTLMax:     64,
	},
	{
		Name:       "ttl-windows",
		Kind:       KindTTL,
		Candidate:  windows,
		Confidence: 0.2,
		TTLMin:     65,
		TTLMax:     128,
	},
	{
		Name:       "ttl-network",
		Kind:       KindTTL,
		Candidate:  Candidate{Family: FamilyNetwork},
		Confidence: 0.15,
		TTLMin:     129,
		TTLMax:     255,
	},
}
