/*
Package cli provides command-line helpers for the interpose binary.

Output Formatting:

List commands build a Table and render it in the format chosen with
--output (text, json or csv):

	format, err := cli.ParseOutputFormat(flagValue)
	if err != nil {
		return err
	}
	table := &cli.Table{Headers: []string{"DOMAIN", "SERIAL"}, Records: records}
	return cli.NewFormatter(format).FormatTo(os.Stdout, table)

Progress Reporting:

Batch commands report per-item results on stderr:

	progress := cli.NewProgressReporter(os.Stderr)
	progress.Start(len(domains))
	for _, d := range domains {
		progress.Step(d, issue(d))
	}
	progress.Finish()

Errors and Exit Codes:

ExitCode maps configuration failures to exit status 2 and everything else
to 1; Describe renders validation failures one field per line.

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
