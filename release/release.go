// Package release compares the installed compiler with the latest
// upstream release.
package release

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"flatbatch/logger"
)

const (
	latestURL   = "https://api.github.com/repos/google/flatbuffers/releases/latest"
	downloadURL = "https://github.com/google/flatbuffers/releases/latest/download/"
)

type releaseInfo struct {
	TagName string `json:"tag_name"`
	Body    string `json:"body"`
	Assets  []struct {
		Name string `json:"name"`
		URL  string `json:"browser_download_url"`
	} `json:"assets"`
}

// Update is the outcome of a release check.
type Update struct {
	Current   string
	Latest    string
	Notes     string
	Available bool
	// Asset is the prebuilt archive for this platform, if one is known.
	Asset    string
	AssetURL string
}

// CheckForUpdate compares current with the latest published compiler
// release. An empty current version always reports an update.
func CheckForUpdate(ctx context.Context, current, goos, goarch string) (Update, error) {
	return checkForUpdateURL(ctx, current, goos, goarch, latestURL)
}

func checkForUpdateURL(ctx context.Context, current, goos, goarch, url string) (Update, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Update{}, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return Update{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Update{}, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	var info releaseInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Update{}, err
	}

	u := Update{
		Current: current,
		Latest:  strings.TrimPrefix(info.TagName, "v"),
	}
	u.Available = current == "" || compareVersions(u.Latest, current) > 0
	if u.Available {
		u.Notes = info.Body
	}
	if asset, err := PlatformAsset(goos, goarch); err == nil {
		u.Asset = asset
		u.AssetURL = downloadURL + asset
		for _, a := range info.Assets {
			if a.Name == asset && a.URL != "" {
				u.AssetURL = a.URL
			}
		}
	}
	return u, nil
}

// PlatformAsset names the prebuilt compiler archive for a platform.
func PlatformAsset(goos, goarch string) (string, error) {
	switch goos {
	case "windows":
		return "Windows.flatc.binary.zip", nil
	case "linux":
		return "Linux.flatc.binary.clang++-18.zip", nil
	case "darwin":
		if goarch == "amd64" {
			return "MacIntel.flatc.binary.zip", nil
		}
		return "Mac.flatc.binary.zip", nil
	}
	return "", fmt.Errorf("no prebuilt compiler for %s/%s", goos, goarch)
}

// CompilerVersion runs the compiler with --version and returns the
// version number it prints, e.g. "24.3.25" for "flatc version 24.3.25".
func CompilerVersion(ctx context.Context, compiler string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, compiler, "--version")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s --version: %w: %s", compiler, err, msg)
		}
		return "", fmt.Errorf("%s --version: %w", compiler, err)
	}
	fields := strings.Fields(stdout.String())
	if len(fields) == 0 {
		return "", fmt.Errorf("%s --version printed nothing", compiler)
	}
	version := strings.TrimPrefix(fields[len(fields)-1], "v")
	logger.Debugf("Compiler %s reports version %s", compiler, version)
	return version, nil
}

// compareVersions compares dotted numeric versions. Missing or
// non-numeric components count as zero.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := range max(len(as), len(bs)) {
		x, y := component(as, i), component(bs, i)
		switch {
		case x > y:
			return 1
		case x < y:
			return -1
		}
	}
	return 0
}

func component(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
	if err != nil {
		return 0
	}
	return n
}
