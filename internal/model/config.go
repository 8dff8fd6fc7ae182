package model

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
	"github.com/spf13/viper"
	yamlv3 "gopkg.in/yaml.v3"

	_ "embed"
)

const (
	EngineConnect = "connect"
	EngineNmap    = "nmap"

	FormatText      = "text"
	FormatJSON      = "json"
	FormatCycloneDX = "cyclonedx"

	AuthTypeNone        = "none"
	AuthTypeStaticToken = "static_token"

	ServiceModeManual = "manual"
	ServiceModeTimer  = "timer"

	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	// EnvPrefix is a prefix of environment variables overriding the config file
	EnvPrefix = "EOLAUDIT"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version       int            `json:"version" yaml:"version"` // fixed 0 for now
	Scan          Scan           `json:"scan" yaml:"scan"`
	KnowledgeBase *KnowledgeBase `json:"knowledge_base,omitempty" yaml:"knowledge_base,omitempty"`
	Thresholds    Thresholds     `json:"thresholds" yaml:"thresholds"`
	Report        Report         `json:"report" yaml:"report"`
	Service       Service        `json:"service" yaml:"service"`
}

// Scan configures the network discovery
type Scan struct {
	Targets            []string          `json:"targets,omitempty" yaml:"targets,omitempty"` // CIDR, address, hostname
	Ports              []int             `json:"ports" yaml:"ports"`
	Probes             map[string]string `json:"probes,omitempty" yaml:"probes,omitempty"` // port -> "none" | "passive" | "http" | "tls"
	LivenessPorts      []int             `json:"liveness_ports" yaml:"liveness_ports"`
	Timeout            Duration          `json:"timeout" yaml:"timeout"`   // per probe
	Deadline           Duration          `json:"deadline" yaml:"deadline"` // whole discovery
	Workers            int               `json:"workers" yaml:"workers"`
	Rate               float64           `json:"rate" yaml:"rate"` // probes per second, 0 is unlimited
	ICMP               bool              `json:"icmp" yaml:"icmp"`
	Engine             string            `json:"engine" yaml:"engine"` // "connect" | "nmap"
	Nmap               *string           `json:"nmap,omitempty" yaml:"nmap,omitempty"`
	SNMP               *SNMP             `json:"snmp,omitempty" yaml:"snmp,omitempty"`
	DNS                DNS               `json:"dns" yaml:"dns"`
	ReportUnresponsive bool              `json:"report_unresponsive" yaml:"report_unresponsive"`
	MaxTargets         int               `json:"max_targets" yaml:"max_targets"`
}

type SNMP struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Community string   `json:"community" yaml:"community"`
	Port      int      `json:"port" yaml:"port"`
	Timeout   Duration `json:"timeout" yaml:"timeout"`
}

type DNS struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Server  *string `json:"server,omitempty" yaml:"server,omitempty"` // host:port, /etc/resolv.conf if empty
}

// KnowledgeBase lists extra lifecycle files appended after the embedded defaults
type KnowledgeBase struct {
	Paths        []string `json:"paths,omitempty" yaml:"paths,omitempty"`
	SkipDefaults bool     `json:"skip_defaults" yaml:"skip_defaults"`
}

type Thresholds struct {
	WarningDays     int     `json:"warning_days" yaml:"warning_days"`
	CriticalDays    int     `json:"critical_days" yaml:"critical_days"`
	ConfidenceFloor float64 `json:"confidence_floor" yaml:"confidence_floor"`
}

type Report struct {
	Format string  `json:"format" yaml:"format"` // "text" | "json" | "cyclonedx"
	Color  bool    `json:"color" yaml:"color"`
	Dir    *string `json:"dir,omitempty" yaml:"dir,omitempty"` // save reports here
}

// Service configures the supervisor of the run command
type Service struct {
	Mode       string         `json:"mode" yaml:"mode"` // "manual" | "timer"
	Schedule   *TimerSchedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Verbose    bool           `json:"verbose" yaml:"verbose"`
	Log        string         `json:"log" yaml:"log"`                             // "stderr"|"stdout"|"discard"|path
	Dir        *string        `json:"dir,omitempty" yaml:"dir,omitempty"`         // output directory
	History    *string        `json:"history,omitempty" yaml:"history,omitempty"` // sqlite database path
	Repository *Repository    `json:"repository,omitempty" yaml:"repository,omitempty"`
}

// TimerSchedule defines either cron expression or ISO8601 duration
type TimerSchedule struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Repository publication settings.
type Repository struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	URL     URL  `json:"url" yaml:"url"`
	Auth    Auth `json:"auth" yaml:"auth"` // discriminated union by Auth.Type
}

// Auth is a tagged union: Type "none" or "static_token".
type Auth struct {
	Type  string `json:"type" yaml:"type"`                       // "none" | "static_token"
	Token string `json:"token,omitempty" yaml:"token,omitempty"` // required when Type == "static_token"
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	if err := out.check(); err != nil {
		return nil, err
	}
	return &out, nil
}

// DefaultConfig returns the configuration with all schema defaults applied
func DefaultConfig(_ context.Context) Config {
	cfg, err := LoadConfig(strings.NewReader("version: 0\n"))
	if err != nil {
		panic(err)
	}
	return *cfg
}

// check enforces the constraints the schema can't express
func (c Config) check() error {
	if c.Service.Mode == ServiceModeTimer {
		if c.Service.Schedule == nil {
			return fmt.Errorf("%w: service.schedule: cron or duration is required in timer mode", ErrConfig)
		}
		if _, err := c.Service.Schedule.Interval(); err != nil {
			return fmt.Errorf("service.schedule: %w", err)
		}
	}
	if c.Scan.Engine == EngineNmap && c.Scan.Nmap != nil && *c.Scan.Nmap == "" {
		return fmt.Errorf("%w: scan.nmap: empty binary path", ErrConfig)
	}
	return nil
}

type envKind int

const (
	envString envKind = iota
	envStrings
	envInt
	envFloat
	envBool
)

// envOverrides lists config keys which can be overridden by EOLAUDIT_<KEY> variables,
// eg. EOLAUDIT_THRESHOLDS_WARNING_DAYS=90
var envOverrides = map[string]envKind{
	"scan.targets":                envStrings,
	"scan.timeout":                envString,
	"scan.deadline":               envString,
	"scan.workers":                envInt,
	"scan.rate":                   envFloat,
	"scan.icmp":                   envBool,
	"scan.engine":                 envString,
	"thresholds.warning_days":     envInt,
	"thresholds.critical_days":    envInt,
	"thresholds.confidence_floor": envFloat,
	"report.format":               envString,
	"report.color":                envBool,
	"report.dir":                  envString,
	"service.verbose":             envBool,
	"service.log":                 envString,
	"service.dir":                 envString,
}

// LoadConfigEnv reads YAML from r, applies EOLAUDIT_* environment variables on top of it
// and validates the result with LoadConfig.
func LoadConfigEnv(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	doc := map[string]any{}
	if err := yamlv3.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, kind := range envOverrides {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
		if !v.IsSet(key) {
			continue
		}
		var val any
		switch kind {
		case envStrings:
			val = strings.FieldsFunc(v.GetString(key), func(r rune) bool { return r == ',' || r == ' ' })
		case envInt:
			val = v.GetInt(key)
		case envFloat:
			val = v.GetFloat64(key)
		case envBool:
			val = v.GetBool(key)
		default:
			val = v.GetString(key)
		}
		setPath(doc, strings.Split(key, "."), val)
	}

	merged, err := yamlv3.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return LoadConfig(bytes.NewReader(merged))
}

func setPath(doc map[string]any, path []string, val any) {
	for _, key := range path[:len(path)-1] {
		next, ok := doc[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			doc[key] = next
		}
		doc = next
	}
	doc[path[len(path)-1]] = val
}

// ProbeTimeout returns the per probe timeout with a sane fallback
func (s Scan) ProbeTimeout() time.Duration {
	if s.Timeout.Duration <= 0 {
		return 2 * time.Second
	}
	return s.Timeout.Duration
}
