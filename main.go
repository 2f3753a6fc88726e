// tplsync synchronizes document templates and stylesheets with a
// remote template-rendering service, injecting per-locale translations.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/tplsync/tplsync/api"
	"github.com/tplsync/tplsync/i18n"
	"github.com/tplsync/tplsync/pipeline"
	"github.com/tplsync/tplsync/session"
	"github.com/tplsync/tplsync/settings"
	"github.com/tplsync/tplsync/translations"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Colored log tags and value highlighters.
var (
	tagInfo    = color.New(color.FgBlue).Sprint("[INFO]")
	tagSuccess = color.New(color.FgGreen).Sprint("[OK]")
	tagWarning = color.New(color.FgYellow).Sprint("[WARN]")
	tagError   = color.New(color.FgRed).Sprint("[ERROR]")

	yellow = color.New(color.FgYellow).SprintFunc()
	blue   = color.New(color.FgBlue).SprintFunc()
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, tagInfo+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, tagSuccess+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, tagWarning+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, tagError+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Common flags
// ---------------------------------------------------------------------------

// Connection flags shared by every subcommand. Each falls back to the
// environment (TENANT, STAGE, NS_USER, NS_PASSWORD, NS_ACCESS_TOKEN),
// a .env file, and .tplsync.yaml, in that order.
var (
	flagTenant      string
	flagStage       string
	flagUsername    string
	flagPassword    string
	flagAccessToken string
)

// newClient resolves settings, authenticates, and returns an API client.
func newClient(ctx context.Context) (*api.Client, *session.Session, error) {
	resolved, err := settings.Resolve(settings.Settings{
		Tenant:      flagTenant,
		Stage:       flagStage,
		Username:    flagUsername,
		Password:    flagPassword,
		AccessToken: flagAccessToken,
	}, ".")
	if err != nil {
		return nil, nil, err
	}

	sess, err := session.New(ctx, resolved)
	if err != nil {
		return nil, nil, err
	}

	return api.New(sess, "", 0), sess, nil
}

// signalContext returns a context cancelled on interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logWarning(i18n.T("Interrupted, waiting for in-flight uploads..."))
		cancel()
	}()

	return ctx, cancel
}

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tplsync",
		Short: "Synchronize document templates and stylesheets with the template service",
		Long: `tplsync - template and stylesheet synchronization client.

Uploads local *.j2 templates and *.css stylesheets to the remote
template-rendering service, injecting per-locale translated strings
from translations-<locale>.json dictionaries before upload.

Commands:
  update-all          Upload all local templates (per locale) and styles
  update-template     Upload a single template file
  update-style        Upload a single stylesheet
  download-templates  Download every remote template to disk
  list, list-styles, template, sample-data, sample-documentation,
  preview, accesstoken`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flagTenant, "tenant", "t", "", "Tenant")
	pf.StringVarP(&flagStage, "stage", "s", "", "Stage")
	pf.StringVarP(&flagUsername, "username", "u", "", "Username")
	pf.StringVarP(&flagPassword, "password", "p", "", "Password")
	pf.StringVar(&flagAccessToken, "accesstoken", "", "Access token (skips username/password login)")

	root.AddCommand(
		newAccessTokenCmd(),
		newListCmd(),
		newTemplateCmd(),
		newUpdateTemplateCmd(),
		newDownloadTemplatesCmd(),
		newSampleDataCmd(),
		newSampleDocumentationCmd(),
		newPreviewCmd(),
		newListStylesCmd(),
		newUpdateStyleCmd(),
		newUpdateAllCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tplsync version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// accesstoken
// ---------------------------------------------------------------------------

func newAccessTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accesstoken",
		Short: "Authenticate and print the access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sess, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(sess.Token)
			logInfo("token %s (cache: %s)", settings.MaskToken(sess.Token), settings.TokenFilePath())
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// list / list-styles
// ---------------------------------------------------------------------------

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all remote templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			names, err := client.Templates(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newListStylesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-styles",
		Short: "List all remote styles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			names, err := client.Styles(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// template / sample-data / sample-documentation
// ---------------------------------------------------------------------------

func newTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template <name> <locale>",
		Short: "Print a template's localized content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			content, err := client.Template(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Print(content)
			return nil
		},
	}
}

func newSampleDataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sample-data <name>",
		Short: "Print a template's sample data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			data, err := client.SampleData(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(data, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func newSampleDocumentationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sample-documentation <name>",
		Short: "Print a template's sample data documentation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			doc, err := client.SampleDocumentation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Print(doc)
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// update-template / update-style
// ---------------------------------------------------------------------------

func newUpdateTemplateCmd() *cobra.Command {
	var skipTranslation bool

	cmd := &cobra.Command{
		Use:   "update-template <name> <locale> <file>",
		Short: "Upload a single template file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, locale, file := args[0], args[1], args[2]

			content, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}

			client, _, err := newClient(cmd.Context())
			if err != nil {
				return err
			}

			text := string(content)
			if !skipTranslation {
				text = newResolver().Resolve(text, file, locale)
			}

			return client.UpdateTemplate(cmd.Context(), name, locale, text)
		},
	}

	cmd.Flags().BoolVar(&skipTranslation, "skip-translation", false, "Skip the translation process")
	return cmd
}

func newUpdateStyleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-style <style> <file>",
		Short: "Upload a single stylesheet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[1], err)
			}

			client, _, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			return client.UpdateStyle(cmd.Context(), args[0], string(content))
		},
	}
}

// ---------------------------------------------------------------------------
// preview
// ---------------------------------------------------------------------------

func newPreviewCmd() *cobra.Command {
	var skipTranslation bool

	cmd := &cobra.Command{
		Use:   "preview <name> <locale> [templateFile] [dataFile]",
		Short: "Render a preview document",
		Long: `Render a preview of a template with sample data.

Template content comes from templateFile when given, otherwise from the
remote service; sample data comes from dataFile when given, otherwise
from the template's remote sample data.`,
		Args: cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, locale := args[0], args[1]

			client, _, err := newClient(cmd.Context())
			if err != nil {
				return err
			}

			var templateContent, sourcePath string
			if len(args) >= 3 {
				data, err := os.ReadFile(args[2])
				if err != nil {
					return fmt.Errorf("reading %s: %w", args[2], err)
				}
				templateContent = string(data)
				sourcePath = args[2]
			} else {
				templateContent, err = client.Template(cmd.Context(), name, locale)
				if err != nil {
					return err
				}
				sourcePath = name + ".j2"
			}

			if !skipTranslation {
				templateContent = newResolver().Resolve(templateContent, sourcePath, locale)
			}

			var sampleData map[string]any
			if len(args) == 4 {
				raw, err := os.ReadFile(args[3])
				if err != nil {
					return fmt.Errorf("reading %s: %w", args[3], err)
				}
				if err := json.Unmarshal(raw, &sampleData); err != nil {
					return fmt.Errorf("parsing %s: %w", args[3], err)
				}
			} else {
				sampleData, err = client.SampleData(cmd.Context(), name)
				if err != nil {
					return err
				}
			}

			result, err := client.Preview(cmd.Context(), name, locale, templateContent, sampleData)
			if err != nil {
				return err
			}
			fmt.Print(result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipTranslation, "skip-translation", false, "Skip the translation process")
	return cmd
}

// ---------------------------------------------------------------------------
// download-templates
// ---------------------------------------------------------------------------

func newDownloadTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download-templates <locale>",
		Short: "Download every remote template to the working directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			locale := args[0]

			ctx, cancel := signalContext()
			defer cancel()

			client, _, err := newClient(ctx)
			if err != nil {
				return err
			}

			names, err := client.Templates(ctx)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				logInfo(i18n.T("No templates found"))
				return nil
			}

			bar := progressbar.NewOptions(len(names),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", locale)),
				progressbar.OptionSetWriter(os.Stderr),
			)

			for i, name := range names {
				// Same pacing courtesy as the upload pipeline.
				if i > 0 {
					select {
					case <-time.After(pipeline.DefaultDelay):
					case <-ctx.Done():
						return ctx.Err()
					}
				}

				content, err := client.Template(ctx, name, locale)
				if err != nil {
					logError("%s: %v", name, err)
					_ = bar.Add(1)
					continue
				}

				if err := os.WriteFile(name+".j2", []byte(content), 0644); err != nil {
					logError("writing %s.j2: %v", name, err)
				}
				_ = bar.Add(1)
			}

			fmt.Fprintln(os.Stderr)
			logSuccess(i18n.T("Downloaded %d template(s)"), len(names))
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// update-all
// ---------------------------------------------------------------------------

func newUpdateAllCmd() *cobra.Command {
	var skipTranslation bool

	cmd := &cobra.Command{
		Use:   "update-all <locale>...",
		Short: "Upload all local templates and stylesheets",
		Long: `Upload every *.j2 template (once per locale, with translations
injected) and every *.css stylesheet in the working directory.

Uploads are paced 5 seconds apart to stay inside the service's rate
limits. A failed upload is reported and does not stop the remaining
uploads. Locales may also come from the locales list in .tplsync.yaml.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			locales := args

			pf, err := settings.LoadProjectFile(".")
			if err != nil {
				return err
			}
			if len(locales) == 0 && pf != nil {
				locales = pf.Locales
			}
			if len(locales) == 0 {
				return fmt.Errorf("no locales given (pass them as arguments or set locales in %s)", settings.ProjectFileName)
			}

			ctx, cancel := signalContext()
			defer cancel()

			client, _, err := newClient(ctx)
			if err != nil {
				return err
			}

			opts := pipeline.Options{
				Locales:         locales,
				SkipTranslation: skipTranslation,
				Delay:           pipeline.DefaultDelay,
				Dispatcher:      client,
				Translator:      newResolver(),
				OnProgress: func(rec pipeline.FileRecord) {
					if rec.Locale != "" {
						logInfo(i18n.T("importing %s %s (%s)"), rec.Kind, yellow(rec.Path), blue(rec.Locale))
					} else {
						logInfo(i18n.T("importing %s %s"), rec.Kind, yellow(rec.Path))
					}
				},
				OnWarn: logWarning,
				OnError: func(rec pipeline.FileRecord, err error) {
					logError("%s %s: %v", rec.Kind, rec.Path, err)
				},
			}
			if pf != nil {
				opts.TemplateGlob = pf.TemplateGlob
				opts.StyleGlob = pf.StyleGlob
			}

			summary, err := pipeline.Run(ctx, opts)
			if err != nil {
				logInfo(i18n.T("Settled: %d dispatched, %d ok, %d failed"),
					summary.Dispatched, summary.Succeeded, summary.Failed)
				return err
			}

			logSuccess(i18n.T("Settled: %d dispatched, %d ok, %d failed"),
				summary.Dispatched, summary.Succeeded, summary.Failed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipTranslation, "skip-translation", false, "Skip the translation process")
	return cmd
}

// newResolver builds a translation resolver that reports load failures
// through the warning log.
func newResolver() *translations.Resolver {
	r := translations.NewResolver()
	r.OnWarn = logWarning
	return r
}
