package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("fieldlink exited")
	}
}

func run(args []string) error {
	app := &cli.App{
		Name:  "fieldlink",
		Usage: "operator console for live worker streams, voice notes and frame annotation",
		Flags: []cli.Flag{ // Global flags.
			&cli.BoolFlag{
				Name:    "debug",
				Value:   false,
				Usage:   "enable debug logging",
				EnvVars: []string{"DEBUG"},
			},
			&cli.StringFlag{
				Name:    "env-file",
				Value:   ".env",
				Usage:   "dotenv file loaded before config",
				EnvVars: []string{"FIELDLINK_ENV_FILE"},
			},
		},
		Before: func(c *cli.Context) error {
			setupLogger(c.Bool("debug"))
			// a missing .env is fine; real env vars and config still apply
			if err := godotenv.Load(c.String("env-file")); err != nil {
				log.Debug().Str("module", "main").Str("file", c.String("env-file")).Msg("no env file")
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCommand(),
		},
	}
	return app.Run(args)
}

func setupLogger(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
