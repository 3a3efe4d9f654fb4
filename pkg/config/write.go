package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is used when WriteDefault is given a directory.
const DefaultFileName = "preferences.yaml"

// document is the on-disk layout written by WriteDefault. Field order here
// is the key order of the generated file.
type document struct {
	Version int `yaml:"version"`
	ALM     struct {
		WebDomain   string `yaml:"webdomain"`
		Domain      string `yaml:"domain"`
		Project     string `yaml:"project"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		HTTPSStrict bool   `yaml:"https_strict"`
		Timeout     string `yaml:"timeout"`
	} `yaml:"alm"`
	Export struct {
		Workers  int `yaml:"workers"`
		PageSize int `yaml:"page_size"`
	} `yaml:"export"`
	Email struct {
		SenderDomain string   `yaml:"sender_domain"`
		ToList       []string `yaml:"to_list"`
		CCList       []string `yaml:"cc_list"`
		SMTPHost     string   `yaml:"smtp_host"`
		SMTPPort     int      `yaml:"smtp_port"`
		Subject      string   `yaml:"subject"`
	} `yaml:"email"`
	Redis struct {
		Addr string `yaml:"addr"`
		DB   int    `yaml:"db"`
	} `yaml:"redis"`
	Cache struct {
		Enabled bool   `yaml:"enabled"`
		TTL     string `yaml:"ttl"`
	} `yaml:"cache"`
	Progress struct {
		Enabled bool   `yaml:"enabled"`
		TTL     string `yaml:"ttl"`
	} `yaml:"progress"`
	Publish struct {
		BucketURL string `yaml:"bucket_url"`
		Prefix    string `yaml:"prefix"`
	} `yaml:"publish"`
	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
	Mapping *yaml.Node `yaml:"mapping"`
}

// Marshal renders p as a preferences YAML document.
func Marshal(p Preferences) ([]byte, error) {
	var d document
	d.Version = DefaultsVersion
	d.ALM.WebDomain = p.ALM.WebDomain
	d.ALM.Domain = p.ALM.Domain
	d.ALM.Project = p.ALM.Project
	d.ALM.Username = p.ALM.Username
	d.ALM.Password = p.ALM.Password
	d.ALM.HTTPSStrict = p.ALM.VerifyTLS()
	d.ALM.Timeout = p.ALM.Timeout.String()
	d.Export.Workers = p.Export.Workers
	d.Export.PageSize = p.Export.PageSize
	d.Email.SenderDomain = p.Email.SenderDomain
	d.Email.ToList = nonNil(p.Email.ToList)
	d.Email.CCList = nonNil(p.Email.CCList)
	d.Email.SMTPHost = p.Email.SMTPHost
	d.Email.SMTPPort = p.Email.SMTPPort
	d.Email.Subject = p.Email.Subject
	d.Redis.Addr = p.Redis.Addr
	d.Redis.DB = p.Redis.DB
	d.Cache.Enabled = p.Cache.Enabled
	d.Cache.TTL = p.Cache.TTL.String()
	d.Progress.Enabled = p.Progress.Enabled
	d.Progress.TTL = p.Progress.TTL.String()
	d.Publish.BucketURL = p.Publish.BucketURL
	d.Publish.Prefix = p.Publish.Prefix
	d.Logging.Level = p.Logging.Level
	d.Logging.Pretty = p.Logging.Pretty != nil && *p.Logging.Pretty
	d.Mapping = p.Mapping.Node()

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(4)
	if err := enc.Encode(&d); err != nil {
		return nil, fmt.Errorf("encode preferences: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode preferences: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefault writes Defaults to path and returns the path written. A
// directory gets DefaultFileName inside it. An existing file is replaced only
// with force.
func WriteDefault(path string, force bool) (string, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, DefaultFileName)
	}
	if _, err := os.Stat(path); err == nil && !force {
		return path, fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	data, err := Marshal(Defaults())
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write preferences: %w", err)
	}
	return path, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
