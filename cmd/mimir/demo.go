package mimir

import (
	"fmt"

	"github.com/edgeflare/mimir/pkg/rag"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a RAG demo case",
	Long: `Ingests a text file into the "demo" collection and answers one question with the
openai, qwen or local model case`,
	Example: `  mimir demo --case qwen --file langchain.txt
  mimir demo --case local --file langchain.txt --question "What is LCEL?"`,
	RunE: runDemo,
}

func init() {
	f := demoCmd.Flags()
	f.String("case", "local", "demo case: openai, qwen or local")
	f.String("file", "langchain.txt", "text file to ingest, a storage key or an absolute URL")
	f.String("question", "", "question to ask (defaults to a question about LangChain)")
	f.StringP("output", "o", "", "print the full answer as json or yaml")
	bindFlags(f, "demo")
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	dc, err := rag.LookupDemoCase(viper.GetString("demo.case"), cfg)
	if err != nil {
		return err
	}

	conn, pools, err := vectorStoreConn(ctx)
	defer pools.Close()
	if err != nil {
		return err
	}

	ans, err := rag.RunDemo(ctx, cfg, dc, viper.GetString("demo.file"), viper.GetString("demo.question"), pipelineOptions(conn)...)
	if err != nil {
		return fmt.Errorf("demo %s: %w", dc.Name, err)
	}

	if format := viper.GetString("demo.output"); format != "" {
		return printOutput(cmd.OutOrStdout(), format, ans)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "=== %s ===\n", dc.Name)
	fmt.Fprintln(out, ans.Text)
	if ans.DisplayContext != "" {
		fmt.Fprintf(out, "\n--- context ---\n%s\n", ans.DisplayContext)
	}
	return nil
}
