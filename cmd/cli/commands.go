package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/and161185/attendgate/internal/convert"
	"github.com/and161185/attendgate/internal/geo"
	"github.com/and161185/attendgate/internal/model"
)

const dataURLPrefix = "data:image/png;base64,"

func cmdLogin(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *u == "" || *p == "" {
		return errors.New("login: -u and -p are required")
	}

	var tr convert.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/operators/login", convert.LoginRequest{Username: *u, Password: *p}, &tr); err != nil {
		return err
	}
	if err := saveToken(tr.AccessToken, tr.ExpiresAt); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	fmt.Fprintf(out, "ok, token valid until %s\n", tr.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}

func cmdIssue(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	dst := fs.String("out", "", "write the QR image to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var sr convert.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/session", nil, &sr); err != nil {
		return err
	}
	if *dst != "" {
		png, err := fetchImage(ctx, c, sr.ArtifactRef)
		if err != nil {
			return fmt.Errorf("fetch image: %w", err)
		}
		if err := os.WriteFile(*dst, png, 0o644); err != nil {
			return err
		}
	}
	printJSON(out, sr)
	return nil
}

// fetchImage resolves an artifact ref, which is either an inline data URL
// or a path served by the API.
func fetchImage(ctx context.Context, c *client, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, dataURLPrefix) {
		return base64.StdEncoding.DecodeString(strings.TrimPrefix(ref, dataURLPrefix))
	}
	if ref == "" {
		return nil, errors.New("empty artifact ref")
	}
	return c.get(ctx, ref)
}

func cmdValidate(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	id := fs.String("session", "", "session id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("validate: -session is required")
	}

	var vr convert.ValidateResponse
	if err := c.do(ctx, http.MethodPost, "/session/validate", convert.ValidateRequest{SessionID: *id}, &vr); err != nil {
		return err
	}
	printJSON(out, vr)
	return nil
}

func cmdList(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	date := fs.String("date", time.Now().Format(model.DayLayout), "day (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var lr convert.AttendanceListResponse
	if err := c.do(ctx, http.MethodGet, "/attendance?date="+url.QueryEscape(*date), nil, &lr); err != nil {
		return err
	}
	printJSON(out, lr)
	return nil
}

func cmdHash(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	in := fs.String("input", "", "device descriptor")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("hash: -input is required")
	}

	var fr convert.FingerprintResponse
	if err := c.do(ctx, http.MethodPost, "/fingerprint-hash", convert.FingerprintRequest{Input: *in}, &fr); err != nil {
		return err
	}
	printJSON(out, fr)
	return nil
}

type distanceResult struct {
	DistanceM float64 `json:"distanceM"`
	RadiusM   float64 `json:"radiusM"`
	Within    bool    `json:"within"`
}

// cmdDistance evaluates a point against the anchor locally, without the server.
func cmdDistance(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("distance", flag.ContinueOnError)
	lat := fs.Float64("lat", 0, "latitude")
	lng := fs.Float64("lng", 0, "longitude")
	aLat := fs.Float64("anchor-lat", 30.2679634, "anchor latitude")
	aLng := fs.Float64("anchor-lng", 77.991887, "anchor longitude")
	radius := fs.Float64("radius", 1000, "allowed radius in meters")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p := model.Coordinates{Lat: *lat, Lng: *lng}
	anchor := model.Coordinates{Lat: *aLat, Lng: *aLng}
	if !geo.Valid(p) || !geo.Valid(anchor) {
		return errors.New("distance: invalid coordinates")
	}
	d := geo.Distance(anchor, p)
	printJSON(out, distanceResult{DistanceM: d, RadiusM: *radius, Within: d <= *radius})
	return nil
}

// cmdWatch streams committed records from the live feed.
func cmdWatch(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	n := fs.Int("n", 0, "stop after n events (0 = forever)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.token}}
	}
	conn, resp, err := websocket.Dial(ctx, c.wsURL("/feed"), opts)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return &apiError{Status: resp.StatusCode, Code: "Feed", Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.CloseNow()

	for seen := 0; *n == 0 || seen < *n; seen++ {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read feed: %w", err)
		}
		var ev convert.FeedEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		printJSON(out, ev)
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}
