// Command halo2sol generates an EVM verifier contract from a protocol
// descriptor file and writes the deployable artifacts.
package main

import (
	"encoding/hex"
	"flag"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/xiyu1984/halo2-solidity-verifier/codegen"
	"github.com/xiyu1984/halo2-solidity-verifier/protocol"
)

func main() {
	configPath := flag.String("config", "verifier.json", "protocol descriptor file")
	outDir := flag.String("out", "output", "artifact directory")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if !*verbose {
		log = log.Level(zerolog.InfoLevel)
	}

	cfg, err := protocol.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("load descriptor")
	}
	p, err := cfg.Protocol()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid descriptor")
	}

	art, err := codegen.NewGenerator(log).Generate(p)
	if err != nil {
		log.Fatal().Err(err).Msg("generate verifier")
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create output directory")
	}
	files := map[string][]byte{
		"verifier.runtime.hex": []byte(hex.EncodeToString(art.RuntimeCode)),
		"verifier.deploy.hex":  []byte(hex.EncodeToString(art.DeployCode)),
		"verifier.listing.txt": []byte(art.Listing),
	}
	for name, data := range files {
		path := filepath.Join(*outDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("write artifact")
		}
		log.Info().Str("path", path).Int("bytes", len(data)).Msg("wrote artifact")
	}
	log.Info().
		Str("digest", codegen.DigestHex(p)).
		Uint64("gas_estimate", art.GasEstimate).
		Msg("done")
}
