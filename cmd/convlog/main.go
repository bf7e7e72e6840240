package main

import (
	"context"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"conversation-log/internal/cli"
	"conversation-log/internal/config"
	"conversation-log/internal/integrations/paramstore"
	"conversation-log/internal/repository"
)

func main() {
	cmd := cli.NewRootCommand(openStore)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}

func openStore(ctx context.Context, opts *cli.RootOptions) (cli.Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(ctx, config.Sources{
		ConfigFile: opts.ConfigFile,
		Params:     params,
		TableName:  opts.Table,
	})
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Table.Name, cfg.StoreOptions(logger)...)
}
