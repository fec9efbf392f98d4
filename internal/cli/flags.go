package cli

import (
	"context"
	"io"
)

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:"config.yaml"`
	EnvFile string `long:"env-file" description:"Path to a .env file with credentials" default:".env"`
	DB      string `long:"db" description:"Database file (overrides database.path and database.dir)"`
}

// env carries what every command needs besides its flags.
type env struct {
	ctx    context.Context
	stdout io.Writer
}

// IngestCommand imports a chat export into the chat's database.
type IngestCommand struct {
	Chat    int64  `long:"chat" description:"Chat id (defaults to the chat found in the export)"`
	Export  string `long:"export" description:"Path to a Telegram Desktop export (result.json)" required:"true"`
	From    string `long:"from" description:"Inclusive start date (YYYY-MM-DD)"`
	To      string `long:"to" description:"Inclusive end date (YYYY-MM-DD)"`
	Analyze bool   `long:"analyze" description:"Compute statistics for the same range after ingesting"`
	Format  string `long:"format" description:"Report format when analyzing" choice:"text" choice:"json" default:"text"`
	Output  string `long:"output" description:"Write the report to this file instead of stdout"`

	globals *GlobalFlags
	env     *env
}

// AnalyzeCommand computes and renders statistics from a chat's database.
type AnalyzeCommand struct {
	Chat   int64  `long:"chat" description:"Chat id (selects the database file)"`
	From   string `long:"from" description:"Inclusive start date (YYYY-MM-DD)"`
	To     string `long:"to" description:"Inclusive end date (YYYY-MM-DD)"`
	Format string `long:"format" description:"Report format" choice:"text" choice:"json" default:"text"`
	Output string `long:"output" description:"Write the report to this file instead of stdout"`

	globals *GlobalFlags
	env     *env
}

// ServeCommand runs the Telegram bot.
type ServeCommand struct {
	globals *GlobalFlags
	env     *env
}
