package main

import (
	"flag"
	"os"

	"go.uber.org/fx"

	"zenj-service/internal/app"
)

func main() {
	configPath := flag.String("config", getEnv("ZENJ_CONFIG", "zenj.toml"), "path to the TOML config file")
	flag.Parse()

	fx.New(
		app.Module(app.Params{ConfigPath: *configPath}),
	).Run()
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
