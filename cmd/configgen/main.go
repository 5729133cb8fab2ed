package main

import (
	"flag"
	"log"

	"github.com/kimbyungsang/cranberries/internal/config"
)

const defaultConfigPath = "cmd/cranberriesd/config.toml"

func main() {
	output := flag.String("output", defaultConfigPath, "output path for config template")
	base := flag.String("base", "/cranberries", "zookeeper_base written into the template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultConfigPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated config at %s (hosts=%s base=%s)", *input, cfg.ZookeeperHosts, cfg.ZookeeperBase)
		return
	}

	if err := config.WriteTemplate(*output, *base, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote config template to %s", *output)
}
