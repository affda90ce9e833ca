package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytaudio/internal/services"
	"github.com/desertthunder/ytaudio/internal/shared"
	tu "github.com/desertthunder/ytaudio/internal/testing"
	"github.com/urfave/cli/v3"
)

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			bucket := newMemBucket()
			primary := &tu.FakePrimary{}
			fetcher := &tu.FakeFetcher{}

			runner := NewRunner(RunnerOpts{
				Config:     config,
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
				Storage:    bucket,
				Primary:    primary,
				Fetcher:    fetcher,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.storage != bucket {
				t.Error("expected storage to be set")
			}
			if runner.primary != primary {
				t.Error("expected primary to be set")
			}
			if runner.fetcher != fetcher {
				t.Error("expected fetcher to be set")
			}
			if runner.usesBrowser() {
				t.Error("injected primary should not launch a browser")
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Logger: nil})

			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: nil})

			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("with nil httpClient uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{HTTPClient: nil})

			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
		})

		t.Run("with nil lookup uses PATH lookup", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.lookup == nil {
				t.Error("expected default dependency lookup")
			}
			if !runner.usesBrowser() {
				t.Error("runner without a primary strategy should use the browser converter")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if output.String() != expected {
				t.Errorf("expected %q, got %q", expected, output.String())
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)
			if err == nil {
				t.Fatal("expected error for non-serializable data")
			}
			if !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil {
				t.Fatal("expected error writing newline")
			}
			if !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "hello world" {
				t.Errorf("expected 'hello world', got %q", output.String())
			}
		})

		t.Run("writePlainln surrounds with newlines", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlainln("section"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "\nsection\n" {
				t.Errorf("got %q", output.String())
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writePlain("test")
			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		want := []string{"setup", "run", "retry", "records", "storage", "doctor"}
		if len(commands) != len(want) {
			t.Fatalf("expected %d commands, got %d", len(want), len(commands))
		}
		for i, cmd := range commands {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			if cmd.Name != want[i] {
				t.Errorf("command %d = %s, want %s", i, cmd.Name, want[i])
			}
		}
	})
}

func TestBefore(t *testing.T) {
	t.Run("applies global flags", func(t *testing.T) {
		dir := t.TempDir()
		logPath := filepath.Join(dir, "ytaudio.log")
		configPath := filepath.Join(dir, "custom.toml")

		logger := shared.NewLogger(io.Discard)
		runner := NewRunner(RunnerOpts{Logger: logger, Output: &bytes.Buffer{}})
		defer runner.close()

		var seen string
		app := runner.app()
		app.Commands = []*cli.Command{{
			Name: "noop",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				seen = runner.configPath
				runner.logger.Info("hello from noop")
				return nil
			},
		}}

		err := app.Run(context.Background(), []string{"ytaudio", "--debug", "--log-file", logPath, "--config", configPath, "noop"})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if seen != configPath {
			t.Errorf("configPath = %q, want %q", seen, configPath)
		}
		if logger.GetLevel() != log.DebugLevel {
			t.Errorf("expected debug level, got %v", logger.GetLevel())
		}

		runner.close()
		if got := tu.MustReadFile(t, logPath); !strings.Contains(got, "hello from noop") {
			t.Errorf("log file missing entry: %q", got)
		}
	})

	t.Run("config path from environment", func(t *testing.T) {
		t.Setenv("YTAUDIO_CONFIG", "/etc/ytaudio/config.toml")
		runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(io.Discard)})

		app := runner.app()
		app.Commands = []*cli.Command{{
			Name:   "noop",
			Action: func(ctx context.Context, cmd *cli.Command) error { return nil },
		}}

		if err := app.Run(context.Background(), []string{"ytaudio", "noop"}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if runner.configPath != "/etc/ytaudio/config.toml" {
			t.Errorf("configPath = %q", runner.configPath)
		}
	})

	t.Run("unwritable log file", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(io.Discard)})

		app := runner.app()
		app.Commands = []*cli.Command{{
			Name:   "noop",
			Action: func(ctx context.Context, cmd *cli.Command) error { return nil },
		}}

		badPath := filepath.Join(t.TempDir(), "missing", "dir", "log.txt")
		err := app.Run(context.Background(), []string{"ytaudio", "--log-file", badPath, "noop"})
		if err == nil || !strings.Contains(err.Error(), "failed to open log file") {
			t.Errorf("expected log file error, got %v", err)
		}
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("injected config wins", func(t *testing.T) {
		config := shared.DefaultConfig()
		runner := NewRunner(RunnerOpts{Config: config})

		got, err := runner.loadConfig()
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if got != config {
			t.Error("expected injected config")
		}
	})

	t.Run("missing file falls back to defaults and environment", func(t *testing.T) {
		t.Setenv("MINIO_BUCKET", "from-env")
		runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(io.Discard)})
		runner.configPath = filepath.Join(t.TempDir(), "absent.toml")

		config, err := runner.loadConfig()
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if config.Storage.Bucket != "from-env" {
			t.Errorf("bucket = %s, want from-env", config.Storage.Bucket)
		}

		again, _ := runner.loadConfig()
		if again != config {
			t.Error("config should be loaded once")
		}
	})

	t.Run("invalid file is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		tu.MustWriteFile(t, path, "[pipeline]\nworkers = 0\n")

		runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(io.Discard)})
		runner.configPath = path

		_, err := runner.loadConfig()
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestCheckDependencies(t *testing.T) {
	missing := func(string, string) services.DependencyReport { return services.DependencyReport{} }

	t.Run("injected strategies skip the lookup", func(t *testing.T) {
		config := shared.DefaultConfig()
		runner := NewRunner(RunnerOpts{
			Primary:  &tu.FakePrimary{},
			Fallback: &tu.FakeFallback{},
			Lookup:   missing,
		})

		if err := runner.checkDependencies(config); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("browser converter needs chrome", func(t *testing.T) {
		config := shared.DefaultConfig()
		config.Fallback.Enabled = false
		runner := NewRunner(RunnerOpts{Lookup: missing})

		err := runner.checkDependencies(config)
		if err == nil || !strings.Contains(err.Error(), "chrome") {
			t.Fatalf("expected chrome error, got %v", err)
		}
		if strings.Contains(err.Error(), "yt-dlp") {
			t.Errorf("disabled fallback should not require yt-dlp: %v", err)
		}
	})

	t.Run("enabled fallback needs yt-dlp and ffmpeg", func(t *testing.T) {
		config := shared.DefaultConfig()
		runner := NewRunner(RunnerOpts{Primary: &tu.FakePrimary{}, Lookup: missing})

		err := runner.checkDependencies(config)
		if err == nil {
			t.Fatal("expected error")
		}
		if strings.Contains(err.Error(), "chrome") {
			t.Errorf("injected primary should not require chrome: %v", err)
		}
		if !strings.Contains(err.Error(), "yt-dlp") || !strings.Contains(err.Error(), "ffmpeg") {
			t.Errorf("expected yt-dlp and ffmpeg errors, got %v", err)
		}
	})
}
