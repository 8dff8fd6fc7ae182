package eol

import (
	"regexp"
	"strings"

	"github.com/CZERTAINLY/eolaudit/internal/model"
)

// Key is a normalized operating system identity. Two raw spellings of the
// same product version always produce an equal Key.
type Key struct {
	Vendor  string
	Product string
	Version string
}

func (k Key) String() string {
	return k.Vendor + "/" + k.Product + "@" + k.Version
}

type familyKey struct {
	Vendor  string
	Product string
}

func (k Key) family() familyKey {
	return familyKey{Vendor: k.Vendor, Product: k.Product}
}

// NewKey normalizes raw vendor, product and version strings
func NewKey(vendor, product, version string) Key {
	p := normalizeProduct(product)
	v := normalizeVendor(vendor)
	if pv, ok := productVendors[p]; ok {
		// known products always belong to their vendor
		v = pv
	}
	return Key{
		Vendor:  v,
		Product: p,
		Version: normalizeVersion(version),
	}
}

var vendorAliases = map[string]string{
	"vmware":             "vmware",
	"vmware by broadcom": "vmware",
	"broadcom":           "vmware",
	"microsoft":          "microsoft",
	"ms":                 "microsoft",
	"canonical":          "canonical",
	"debian":             "debian",
	"debian project":     "debian",
	"red hat":            "redhat",
	"redhat":             "redhat",
	"centos":             "centos",
	"centos project":     "centos",
}

var productAliases = map[string]string{
	"esxi":                            "esxi",
	"esx":                             "esxi",
	"vmware esxi":                     "esxi",
	"vsphere esxi":                    "esxi",
	"vmware vsphere esxi":             "esxi",
	"rhel":                            "rhel",
	"red hat enterprise linux":        "rhel",
	"red hat enterprise linux server": "rhel",
	"redhat enterprise linux":         "rhel",
	"windows server":                  "windows server",
	"microsoft windows server":        "windows server",
	"windows":                         "windows",
	"microsoft windows":               "windows",
	"ubuntu":                          "ubuntu",
	"ubuntu linux":                    "ubuntu",
	"ubuntu server":                   "ubuntu",
	"debian":                          "debian",
	"debian gnu/linux":                "debian",
	"debian linux":                    "debian",
	"centos":                          "centos",
	"centos linux":                    "centos",
	"centos stream":                   "centos stream",
}

var productVendors = map[string]string{
	"esxi":           "vmware",
	"rhel":           "redhat",
	"windows server": "microsoft",
	"windows":        "microsoft",
	"ubuntu":         "canonical",
	"debian":         "debian",
	"centos":         "centos",
	"centos stream":  "centos",
}

var productFamilies = map[string]string{
	"esxi":           model.FamilyESXi,
	"rhel":           model.FamilyLinux,
	"windows server": model.FamilyWindows,
	"windows":        model.FamilyWindows,
	"ubuntu":         model.FamilyLinux,
	"debian":         model.FamilyLinux,
	"centos":         model.FamilyLinux,
	"centos stream":  model.FamilyLinux,
}

var (
	reSpaces       = regexp.MustCompile(`\s+`)
	reCorpSuffix   = regexp.MustCompile(`\s+(inc|corp|corporation|ltd|llc|gmbh)$`)
	reUpdateSuffix = regexp.MustCompile(`^(.*\d)(u|update|sp)\d+[a-z]?$`)
)

func fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return reSpaces.ReplaceAllString(s, " ")
}

func normalizeVendor(s string) string {
	s = fold(strings.NewReplacer(",", " ", ".", " ").Replace(s))
	s = reSpaces.ReplaceAllString(strings.TrimSpace(s), " ")
	s = reCorpSuffix.ReplaceAllString(s, "")
	if alias, ok := vendorAliases[s]; ok {
		return alias
	}
	return s
}

func normalizeProduct(s string) string {
	s = fold(s)
	if alias, ok := productAliases[s]; ok {
		return alias
	}
	return s
}

// normalizeVersion folds a version to a token: "2012 R2" => "2012r2", "v22.04 LTS" => "22.04"
func normalizeVersion(s string) string {
	s = fold(s)
	s = strings.TrimSuffix(s, " lts")
	s = strings.TrimPrefix(s, "v")
	return strings.ReplaceAll(s, " ", "")
}

// candidates returns version tokens to try from the most specific one:
// "7.0u3" => 7.0u3, 7.0, 7; "20.04.6" => 20.04.6, 20.04, 20; "8" => 8, 8.0
func candidates(version string) []string {
	if version == "" {
		return nil
	}
	ret := []string{version}
	v := version
	if m := reUpdateSuffix.FindStringSubmatch(v); m != nil {
		v = m[1]
		ret = append(ret, v)
	}
	for {
		i := strings.LastIndexByte(v, '.')
		if i <= 0 {
			break
		}
		v = v[:i]
		ret = append(ret, v)
	}
	if !strings.Contains(version, ".") && isDigits(version) {
		ret = append(ret, version+".0")
	}
	return ret
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
