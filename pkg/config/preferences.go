// Package config holds the exporter preferences: typed sections, versioned
// defaults, a pure merge, validation and loading from YAML or JSON files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/alm-export/pkg/mapping"
)

// DefaultsVersion is bumped whenever Defaults changes in a way that affects
// generated preference files.
const DefaultsVersion = 1

// ErrConfigExists is returned by WriteDefault when the target exists.
var ErrConfigExists = errors.New("preferences file already exists")

// Preferences is the complete exporter configuration.
type Preferences struct {
	ALM      ALMConfig            `mapstructure:"alm"`
	Export   ExportConfig         `mapstructure:"export"`
	Email    EmailConfig          `mapstructure:"email"`
	Redis    RedisConfig          `mapstructure:"redis"`
	Cache    CacheConfig          `mapstructure:"cache"`
	Progress ProgressConfig       `mapstructure:"progress"`
	Publish  PublishConfig        `mapstructure:"publish"`
	Logging  LoggingConfig        `mapstructure:"logging"`
	Mapping  mapping.FieldMapping `mapstructure:"-"`
}

// ALMConfig selects the ALM server, project and credentials.
type ALMConfig struct {
	WebDomain   string        `mapstructure:"webdomain"`
	Domain      string        `mapstructure:"domain"`
	Project     string        `mapstructure:"project"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	HTTPSStrict *bool         `mapstructure:"https_strict"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// VerifyTLS reports whether certificates are verified. Unset means false.
func (a ALMConfig) VerifyTLS() bool {
	return a.HTTPSStrict != nil && *a.HTTPSStrict
}

// ExportConfig controls paging.
type ExportConfig struct {
	Workers  int `mapstructure:"workers"`
	PageSize int `mapstructure:"page_size"`
}

// EmailConfig is used when the export is mailed.
type EmailConfig struct {
	SenderDomain string   `mapstructure:"sender_domain"`
	Sender       string   `mapstructure:"sender"`
	ToList       []string `mapstructure:"to_list"`
	CCList       []string `mapstructure:"cc_list"`
	SMTPHost     string   `mapstructure:"smtp_host"`
	SMTPPort     int      `mapstructure:"smtp_port"`
	Subject      string   `mapstructure:"subject"`
}

// RedisConfig is the connection shared by the page cache and progress store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig enables the Redis page cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// ProgressConfig enables progress publishing to Redis.
type ProgressConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// PublishConfig enables uploading the export to a blob bucket.
type PublishConfig struct {
	BucketURL string `mapstructure:"bucket_url"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty *bool  `mapstructure:"pretty"`
}

// Defaults returns the built-in preferences (version DefaultsVersion).
func Defaults() Preferences {
	strict := false
	pretty := true
	return Preferences{
		ALM: ALMConfig{
			HTTPSStrict: &strict,
		},
		Export: ExportConfig{
			Workers:  5,
			PageSize: 100,
		},
		Email: EmailConfig{
			ToList:   []string{},
			CCList:   []string{},
			SMTPPort: 25,
			Subject:  "ALM test export",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		Progress: ProgressConfig{
			TTL: 24 * time.Hour,
		},
		Publish: PublishConfig{
			Prefix: "exports/",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: &pretty,
		},
		Mapping: mapping.Default(),
	}
}

// Merge overlays override on base and returns a new value. Set fields of
// override win: non-empty strings and slices, positive numbers and
// durations, true booleans, non-nil pointers and a non-empty mapping.
// Neither argument is modified.
func Merge(base, override Preferences) Preferences {
	out := base
	out.Email.ToList = cloneStrings(base.Email.ToList)
	out.Email.CCList = cloneStrings(base.Email.CCList)
	out.ALM.HTTPSStrict = cloneBool(base.ALM.HTTPSStrict)
	out.Logging.Pretty = cloneBool(base.Logging.Pretty)

	mergeString(&out.ALM.WebDomain, override.ALM.WebDomain)
	mergeString(&out.ALM.Domain, override.ALM.Domain)
	mergeString(&out.ALM.Project, override.ALM.Project)
	mergeString(&out.ALM.Username, override.ALM.Username)
	mergeString(&out.ALM.Password, override.ALM.Password)
	mergeBoolPtr(&out.ALM.HTTPSStrict, override.ALM.HTTPSStrict)
	mergeDuration(&out.ALM.Timeout, override.ALM.Timeout)

	mergeInt(&out.Export.Workers, override.Export.Workers)
	mergeInt(&out.Export.PageSize, override.Export.PageSize)

	mergeString(&out.Email.SenderDomain, override.Email.SenderDomain)
	mergeString(&out.Email.Sender, override.Email.Sender)
	mergeStrings(&out.Email.ToList, override.Email.ToList)
	mergeStrings(&out.Email.CCList, override.Email.CCList)
	mergeString(&out.Email.SMTPHost, override.Email.SMTPHost)
	mergeInt(&out.Email.SMTPPort, override.Email.SMTPPort)
	mergeString(&out.Email.Subject, override.Email.Subject)

	mergeString(&out.Redis.Addr, override.Redis.Addr)
	mergeString(&out.Redis.Password, override.Redis.Password)
	mergeInt(&out.Redis.DB, override.Redis.DB)

	out.Cache.Enabled = base.Cache.Enabled || override.Cache.Enabled
	mergeDuration(&out.Cache.TTL, override.Cache.TTL)
	out.Progress.Enabled = base.Progress.Enabled || override.Progress.Enabled
	mergeDuration(&out.Progress.TTL, override.Progress.TTL)

	mergeString(&out.Publish.BucketURL, override.Publish.BucketURL)
	mergeString(&out.Publish.Prefix, override.Publish.Prefix)

	mergeString(&out.Logging.Level, override.Logging.Level)
	mergeBoolPtr(&out.Logging.Pretty, override.Logging.Pretty)

	if !override.Mapping.IsZero() {
		out.Mapping = override.Mapping
	}
	return out
}

func mergeString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func mergeDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

func mergeBoolPtr(dst **bool, v *bool) {
	if v != nil {
		*dst = cloneBool(v)
	}
}

func mergeStrings(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = cloneStrings(v)
	}
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}

// MissingRequiredFieldError reports the first required preference without a value.
type MissingRequiredFieldError struct {
	Field string
}

// Error implements the error interface.
func (e *MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("missing required preference %s", e.Field)
}

// Validate checks the ALM and export sections. The first missing ALM field
// is returned as *MissingRequiredFieldError.
func (p Preferences) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"alm.webdomain", p.ALM.WebDomain},
		{"alm.domain", p.ALM.Domain},
		{"alm.project", p.ALM.Project},
		{"alm.username", p.ALM.Username},
		{"alm.password", p.ALM.Password},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &MissingRequiredFieldError{Field: r.field}
		}
	}

	if p.Export.Workers < 1 {
		return fmt.Errorf("export.workers must be at least 1 (got %d)", p.Export.Workers)
	}
	if p.Export.PageSize < 1 || p.Export.PageSize > 100 {
		return fmt.Errorf("export.page_size must be between 1 and 100 (got %d)", p.Export.PageSize)
	}
	if p.Mapping.IsZero() {
		return &MissingRequiredFieldError{Field: "mapping"}
	}
	if p.ALM.Timeout < 0 {
		return fmt.Errorf("alm.timeout must not be negative")
	}
	return nil
}

// ValidateEmail checks the email section.
func (p Preferences) ValidateEmail() error {
	if strings.TrimSpace(p.Email.Sender) == "" && strings.TrimSpace(p.Email.SenderDomain) == "" {
		return &MissingRequiredFieldError{Field: "email.sender_domain"}
	}
	if strings.TrimSpace(p.Email.SMTPHost) == "" {
		return &MissingRequiredFieldError{Field: "email.smtp_host"}
	}
	if len(p.Email.ToList) == 0 {
		return &MissingRequiredFieldError{Field: "email.to_list"}
	}
	if p.Email.SMTPPort < 1 || p.Email.SMTPPort > 65535 {
		return fmt.Errorf("email.smtp_port must be between 1 and 65535 (got %d)", p.Email.SMTPPort)
	}
	return nil
}

// Set assigns a string preference by its dotted name. Only the fields that
// can be reported by MissingRequiredFieldError are settable.
func (p *Preferences) Set(field, value string) error {
	switch field {
	case "alm.webdomain":
		p.ALM.WebDomain = value
	case "alm.domain":
		p.ALM.Domain = value
	case "alm.project":
		p.ALM.Project = value
	case "alm.username":
		p.ALM.Username = value
	case "alm.password":
		p.ALM.Password = value
	case "email.sender_domain":
		p.Email.SenderDomain = value
	case "email.smtp_host":
		p.Email.SMTPHost = value
	case "email.to_list":
		p.Email.ToList = splitList(value)
	default:
		return fmt.Errorf("preference %s cannot be set", field)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
