package mimir

import (
	"errors"
	"fmt"

	"github.com/edgeflare/mimir/pkg/models"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List and download models",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the installed language and embedding models",
	RunE: func(cmd *cobra.Command, _ []string) error {
		catalog, err := models.Selector{ModelsDir: cfg.ModelsDir, EmbeddingsDir: cfg.EmbeddingsDir}.All()
		if err != nil {
			return err
		}
		return printOutput(cmd.OutOrStdout(), viper.GetString("models.output"), catalog)
	},
}

var modelsDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download a model snapshot from ModelScope",
	Example: `  mimir models download --name qwen --version 2-instruct-AWQ --size 7B
  mimir models download --model-id Qwen/Qwen2.5-0.5B-Instruct`,
	RunE: runModelsDownload,
}

func init() {
	pf := modelsCmd.PersistentFlags()
	pf.StringP("output", "o", "json", "output format: json or yaml")
	bindFlags(pf, "models")

	f := modelsDownloadCmd.Flags()
	f.String("name", "", "model family in the registry")
	f.String("version", "", "model version in the registry")
	f.String("size", "", "model size in the registry")
	f.String("model-id", "", "ModelScope model id, bypasses the registry")
	f.String("revision", "master", "repository revision")
	bindFlags(f, "models")

	modelsCmd.AddCommand(modelsListCmd, modelsDownloadCmd)
	rootCmd.AddCommand(modelsCmd)
}

func runModelsDownload(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	registry := models.DefaultRegistry()
	if cfg.ModelRegistryFile != "" {
		var err error
		if registry, err = models.LoadRegistry(cfg.ModelRegistryFile); err != nil {
			return fmt.Errorf("load registry: %w", err)
		}
	}

	d := models.NewDownloader(cfg.DownloadDir, cfg.ModelScopeEndpoint, registry, logger)
	res := d.Download(ctx, models.Request{
		Name:          viper.GetString("models.name"),
		Version:       viper.GetString("models.version"),
		Size:          viper.GetString("models.size"),
		CustomModelID: viper.GetString("models.model-id"),
		Revision:      viper.GetString("models.revision"),
	})
	if err := printOutput(cmd.OutOrStdout(), viper.GetString("models.output"), res); err != nil {
		return err
	}
	if res.Error {
		return errors.New(res.Message)
	}
	return nil
}
