// Package config loads the controller's Options, remote-first with a local
// fallback, mirroring gauthbox's GetConfig/getConfigRemotely/getConfigLocally
// (lib.go). Where the teacher hand-rolled a reflection-based field setter
// (setByPath in cmd/config/authbox_config.go) to apply per-box overrides,
// this package merges a typed override struct over the compiled-in default
// with dario.cat/mergo, the teacher's own unused indirect dependency.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"dario.cat/mergo"
)

// Load fetches the remote per-box config from baseURL+"/config/"+hostname,
// falling back to the file named by the LOCAL_CONFIG_FILE environment
// variable if the remote call fails for any reason. Either source is
// merged over Default().
func Load(ctx context.Context, baseURL, hostname string) (Options, error) {
	opts := Default()

	override, remoteErr := loadRemote(ctx, baseURL, hostname)
	if remoteErr != nil {
		var err error
		override, err = loadLocal()
		if err != nil {
			return opts, fmt.Errorf("config: no remote config (%v) and no usable local config (%w)", remoteErr, err)
		}
	}

	if err := mergo.Merge(&opts, override, mergo.WithOverride); err != nil {
		return opts, fmt.Errorf("config: merging override: %w", err)
	}
	return opts, nil
}

func loadRemote(ctx context.Context, baseURL, hostname string) (Options, error) {
	var opts Options
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/config/"+hostname, nil)
	if err != nil {
		return opts, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return opts, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return opts, fmt.Errorf("config: remote config server returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&opts); err != nil {
		return opts, fmt.Errorf("config: decoding remote config: %w", err)
	}
	return opts, nil
}

func loadLocal() (Options, error) {
	var opts Options
	path := os.Getenv("LOCAL_CONFIG_FILE")
	if path == "" {
		return opts, fmt.Errorf("config: LOCAL_CONFIG_FILE is not set")
	}
	f, err := os.Open(path)
	if err != nil {
		return opts, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&opts); err != nil {
		return opts, fmt.Errorf("config: decoding local config file %s: %w", path, err)
	}
	return opts, nil
}
