// Command configserver is the per-box configuration endpoint consumed by
// internal/config.Load: it holds one base Options document plus a map of
// per-hostname overrides, and serves the merged result as JSON. Adapted
// from the teacher's cmd/config/authbox_config.go, with mergo.Merge
// replacing the hand-rolled reflection-based setByPath field setter.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"dario.cat/mergo"
	slogenv "github.com/cbrewster/slog-env"

	"tinkeraccess/internal/config"
)

var (
	configPath = flag.String("config", "", "path to base JSON config file")
	listenAddr = flag.String("listen", ":8000", "address to listen and serve")
)

// baseConfig is the file format: a compiled Options baseline plus a map of
// hostname to a raw JSON override document, merged on request.
type baseConfig struct {
	Base      config.Options             `json:"base"`
	Overrides map[string]json.RawMessage `json:"overrides"`
}

func main() {
	log := slog.New(slogenv.NewHandler(slog.NewTextHandler(os.Stderr, nil)))
	slog.SetDefault(log)

	flag.Parse()
	if *configPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	var base baseConfig
	{
		f, err := os.Open(*configPath)
		if err != nil {
			log.Error("configserver: cannot open config file", slog.String("path", *configPath), slog.Any("error", err))
			os.Exit(1)
		}
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&base); err != nil {
			log.Error("configserver: cannot parse config file", slog.String("path", *configPath), slog.Any("error", err))
			os.Exit(1)
		}
	}

	hostnames := make([]string, 0, len(base.Overrides))
	for h := range base.Overrides {
		hostnames = append(hostnames, h)
	}
	log.Info("configserver: loaded overrides", slog.Any("hostnames", hostnames))

	http.HandleFunc("/config/", func(w http.ResponseWriter, r *http.Request) {
		hostname := strings.TrimPrefix(r.URL.Path, "/config/")

		opts := base.Base
		if raw, ok := base.Overrides[hostname]; ok {
			var override config.Options
			if err := json.Unmarshal(raw, &override); err != nil {
				slog.Error("configserver: invalid override document", slog.String("hostname", hostname), slog.Any("error", err))
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			if err := mergo.Merge(&opts, override, mergo.WithOverride); err != nil {
				slog.Error("configserver: merging override", slog.String("hostname", hostname), slog.Any("error", err))
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(opts); err != nil {
			slog.Error("configserver: encoding response", slog.Any("error", err))
			return
		}
		slog.Info("configserver: served config", slog.String("hostname", hostname))
	})

	log.Info("configserver: listening", slog.String("addr", *listenAddr))
	if err := http.ListenAndServe(*listenAddr, nil); err != nil {
		log.Error("configserver: server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
