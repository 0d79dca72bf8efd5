// Command attendctl is an operator CLI for the attendgate server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "attendgate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "attendgate")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// optionalToken returns the saved token or "" when none is usable.
func optionalToken() string {
	tok, err := loadToken()
	if err != nil {
		return ""
	}
	return tok
}

// ---- utils ----

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `attendctl
Usage:
  attendctl -server URL <cmd> [args]

Commands:
  version
  login      -u <username> -p <password>           (saves token)
  issue      [-out qr.png]                         (new or cached QR session)
  validate   -session <id>
  list       [-date YYYY-MM-DD]                    (attendance of a day)
  hash       -input <device descriptor>
  distance   -lat <deg> -lng <deg> [-anchor-lat ..] [-anchor-lng ..] [-radius m]
  watch      [-n count]                            (live attendance feed)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the HTTP API.
func main() {
	server := flag.String("server", envOr("ATTEND_SERVER", "http://localhost:8080"), "server base URL")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := newClient(*server)
	var err error
	switch cmd {
	case "version":
		fmt.Printf("attendctl %s (%s)\n", version, buildDate)
	case "login":
		err = cmdLogin(ctx, c, args, os.Stdout)
	case "issue":
		c.token = optionalToken()
		err = cmdIssue(ctx, c, args, os.Stdout)
	case "validate":
		err = cmdValidate(ctx, c, args, os.Stdout)
	case "list":
		c.token = optionalToken()
		err = cmdList(ctx, c, args, os.Stdout)
	case "hash":
		err = cmdHash(ctx, c, args, os.Stdout)
	case "distance":
		err = cmdDistance(args, os.Stdout)
	case "watch":
		// the feed outlives the request timeout
		c.token = optionalToken()
		err = cmdWatch(context.Background(), c, args, os.Stdout)
	default:
		usage()
	}
	if err != nil {
		fail(err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fail(err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(os.Stderr, "api error: status=%d code=%s msg=%s\n", apiErr.Status, apiErr.Code, apiErr.Message)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
