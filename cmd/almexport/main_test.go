package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/alm-export/internal/testutil"
	"github.com/Sternrassler/alm-export/pkg/config"
	"github.com/Sternrassler/alm-export/pkg/export"
	"github.com/xuri/excelize/v2"
)

func scriptedPrompter(input string, interactive bool) *prompter {
	return &prompter{
		in:           bufio.NewReader(strings.NewReader(input)),
		out:          io.Discard,
		interactive:  interactive,
		readPassword: func() (string, error) { return "secret", nil },
		currentUser:  func() (string, error) { return "alice", nil },
	}
}

func writePreferences(t *testing.T, dir, webDomain string, withPassword bool) string {
	t.Helper()

	var b strings.Builder
	fmt.Fprintf(&b, "alm:\n  webdomain: %s\n  domain: DEFAULT\n  project: QA\n  username: qa\n", webDomain)
	if withPassword {
		b.WriteString("  password: secret\n")
	}
	b.WriteString("export:\n  workers: 3\n  page_size: 100\n")
	b.WriteString("logging:\n  level: error\n")
	b.WriteString("mapping:\n  ID: id\n  Name: name\n  Description: description\n")

	path := filepath.Join(dir, "preferences.yaml")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInitCmd(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "prefs.yaml")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"init", target})

	if err := root.Execute(); err != nil {
		t.Fatalf("init error = %v", err)
	}
	if !strings.Contains(out.String(), target) {
		t.Errorf("output = %q, want path %q", out.String(), target)
	}
	if _, err := config.Load(target); err != nil {
		t.Errorf("written preferences do not load: %v", err)
	}

	root = newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"init", target})
	if err := root.Execute(); !errors.Is(err, config.ErrConfigExists) {
		t.Errorf("second init error = %v, want ErrConfigExists", err)
	}

	root = newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"init", target, "--force"})
	if err := root.Execute(); err != nil {
		t.Errorf("init --force error = %v", err)
	}
}

func TestRunExport_EndToEnd(t *testing.T) {
	mock := testutil.NewMockALM()
	defer mock.Close()
	mock.SetTests(testutil.NewTests(250))

	dir := t.TempDir()
	bucketDir := t.TempDir()
	output := filepath.Join(dir, "out.xlsx")

	opts := exportOptions{
		preferences: writePreferences(t, dir, mock.URL(), true),
		output:      output,
		publish:     "file://" + bucketDir,
		runID:       "run-1",
		logOutput:   io.Discard,
	}

	var out bytes.Buffer
	if err := runExport(context.Background(), opts, scriptedPrompter("", false), &out); err != nil {
		t.Fatalf("runExport() error = %v", err)
	}
	if !strings.Contains(out.String(), "Exported 250 of 250") {
		t.Errorf("summary = %q", out.String())
	}

	f, err := excelize.OpenFile(output)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(export.SheetName)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 251 {
		t.Fatalf("rows = %d, want header + 250", len(rows))
	}
	if strings.Join(rows[0], ",") != "ID,Name,Description" {
		t.Errorf("header = %v", rows[0])
	}
	for i, row := range rows[1:] {
		if row[0] != fmt.Sprint(i+1) {
			t.Fatalf("row %d id = %q, want %d", i+1, row[0], i+1)
		}
	}
	if rows[1][2] != "Step 1" {
		t.Errorf("description = %q, want sanitised text", rows[1][2])
	}

	if got := mock.GetPageRequests(); len(got) != 3 {
		t.Errorf("page requests = %v, want 3 pages", got)
	}
	if !mock.LoggedOut() {
		t.Error("session was not closed")
	}

	if _, err := os.Stat(filepath.Join(bucketDir, "exports", "run-1", "out.xlsx")); err != nil {
		t.Errorf("published file missing: %v", err)
	}
}

func TestRunExport_FailedPageIsDropped(t *testing.T) {
	mock := testutil.NewMockALM()
	defer mock.Close()
	mock.SetTests(testutil.NewTests(250))
	mock.SetPageResponse(101, testutil.MockResponse{StatusCode: 500, Body: "boom"})

	dir := t.TempDir()
	output := filepath.Join(dir, "out.xlsx")
	opts := exportOptions{
		preferences: writePreferences(t, dir, mock.URL(), true),
		output:      output,
		logOutput:   io.Discard,
	}

	var out bytes.Buffer
	if err := runExport(context.Background(), opts, scriptedPrompter("", false), &out); err != nil {
		t.Fatalf("runExport() error = %v", err)
	}
	if !strings.Contains(out.String(), "Exported 150 of 250") {
		t.Errorf("summary = %q", out.String())
	}
}

func TestRunExport_Interrupted(t *testing.T) {
	mock := testutil.NewMockALM()
	defer mock.Close()
	mock.SetTests(testutil.NewTests(250))
	mock.SetPageResponse(101, testutil.MockResponse{Delay: 2 * time.Second})

	dir := t.TempDir()
	output := filepath.Join(dir, "out.xlsx")
	opts := exportOptions{
		preferences: writePreferences(t, dir, mock.URL(), true),
		output:      output,
		logOutput:   io.Discard,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	err := runExport(ctx, opts, scriptedPrompter("", false), &out)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("runExport() error = %v, want context.DeadlineExceeded", err)
	}
	if _, statErr := os.Stat(output); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("output written for an interrupted run: %v", statErr)
	}
	if out.Len() != 0 {
		t.Errorf("summary printed for an interrupted run: %q", out.String())
	}
}

func TestRunExport_EmailFailureKeepsExport(t *testing.T) {
	mock := testutil.NewMockALM()
	defer mock.Close()
	mock.SetTests(testutil.NewTests(3))

	dir := t.TempDir()
	prefs := writePreferences(t, dir, mock.URL(), true)
	f, err := os.OpenFile(prefs, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.WriteString("email:\n  sender_domain: example.com\n  smtp_host: 127.0.0.1\n  smtp_port: 1\n  to_list:\n    - qa@example.com\n")
	f.Close()
	if err != nil {
		t.Fatal(err)
	}

	output := filepath.Join(dir, "out.xlsx")
	opts := exportOptions{preferences: prefs, output: output, email: true, logOutput: io.Discard}

	var out bytes.Buffer
	if err := runExport(context.Background(), opts, scriptedPrompter("", false), &out); err != nil {
		t.Fatalf("runExport() error = %v, want nil when only the email fails", err)
	}
	if _, err := os.Stat(output); err != nil {
		t.Errorf("export missing: %v", err)
	}
	if !strings.Contains(out.String(), "Exported 3 of 3") {
		t.Errorf("summary = %q", out.String())
	}
}

func TestRunExport_OutputExists(t *testing.T) {
	mock := testutil.NewMockALM()
	defer mock.Close()
	mock.SetTests(testutil.NewTests(3))

	dir := t.TempDir()
	output := filepath.Join(dir, "out.xlsx")
	if err := os.WriteFile(output, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}
	prefs := writePreferences(t, dir, mock.URL(), true)

	tests := []struct {
		name        string
		input       string
		interactive bool
		force       bool
		wantErr     error
	}{
		{name: "non-interactive", wantErr: export.ErrOutputExists},
		{name: "declined", input: "n\n", interactive: true, wantErr: export.ErrOutputExists},
		{name: "confirmed", input: "y\n", interactive: true},
		{name: "forced", force: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := exportOptions{preferences: prefs, output: output, force: tt.force, logOutput: io.Discard}
			err := runExport(context.Background(), opts, scriptedPrompter(tt.input, tt.interactive), io.Discard)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("runExport() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Errorf("runExport() error = %v", err)
			}
		})
	}
}

func TestRunExport_MissingPassword(t *testing.T) {
	mock := testutil.NewMockALM()
	defer mock.Close()
	mock.SetTests(testutil.NewTests(3))

	dir := t.TempDir()
	prefs := writePreferences(t, dir, mock.URL(), false)

	opts := exportOptions{preferences: prefs, output: filepath.Join(dir, "a.xlsx"), logOutput: io.Discard}
	err := runExport(context.Background(), opts, scriptedPrompter("", false), io.Discard)
	var missing *config.MissingRequiredFieldError
	if !errors.As(err, &missing) || missing.Field != "alm.password" {
		t.Fatalf("runExport() error = %v, want missing alm.password", err)
	}
	if mock.GetLoginCount() != 0 {
		t.Error("no login should be attempted before validation passes")
	}

	opts.output = filepath.Join(dir, "b.xlsx")
	if err := runExport(context.Background(), opts, scriptedPrompter("", true), io.Discard); err != nil {
		t.Fatalf("runExport() with prompted password error = %v", err)
	}
}

func TestFillMissing(t *testing.T) {
	base := config.Defaults()
	base.ALM.WebDomain = "http://alm"
	base.ALM.Domain = "D"
	base.ALM.Project = "P"

	tests := []struct {
		name      string
		input     string
		wantUser  string
		wantField string
	}{
		{name: "detected username accepted", input: "y\n", wantUser: "alice"},
		{name: "detected username rejected", input: "n\nbob\n", wantUser: "bob"},
		{name: "empty answer", input: "n\n\n", wantField: "alm.username"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefs := base
			err := scriptedPrompter(tt.input, true).fillMissing(&prefs, config.Preferences.Validate)

			if tt.wantField != "" {
				var missing *config.MissingRequiredFieldError
				if !errors.As(err, &missing) || missing.Field != tt.wantField {
					t.Errorf("fillMissing() error = %v, want missing %s", err, tt.wantField)
				}
				return
			}
			if err != nil {
				t.Fatalf("fillMissing() error = %v", err)
			}
			if prefs.ALM.Username != tt.wantUser || prefs.ALM.Password != "secret" {
				t.Errorf("credentials = %q/%q", prefs.ALM.Username, prefs.ALM.Password)
			}
		})
	}
}

func TestFillMissing_Email(t *testing.T) {
	prefs := config.Defaults()
	p := scriptedPrompter("example.com\nsmtp.example.com\na@example.com, b@example.com\n", true)

	if err := p.fillMissing(&prefs, config.Preferences.ValidateEmail); err != nil {
		t.Fatalf("fillMissing() error = %v", err)
	}
	if len(prefs.Email.ToList) != 2 || prefs.Email.SMTPHost != "smtp.example.com" {
		t.Errorf("email = %+v", prefs.Email)
	}
}

func TestStatusCmd(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "run id required", args: []string{"status"}},
		{name: "redis unreachable", args: []string{"status", "--run-id", "x", "--redis-addr", "127.0.0.1:1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd()
			root.SetOut(io.Discard)
			root.SetErr(io.Discard)
			root.SetArgs(tt.args)
			if err := root.Execute(); err == nil {
				t.Error("status expected error")
			}
		})
	}
}
