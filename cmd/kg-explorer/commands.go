package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cugtyt/kg-explorer/internal/eventbus"
	"github.com/cugtyt/kg-explorer/internal/events"
	"github.com/cugtyt/kg-explorer/internal/export"
	"github.com/cugtyt/kg-explorer/internal/service"
	"github.com/cugtyt/kg-explorer/internal/store"
	"github.com/cugtyt/kg-explorer/internal/views"
	"github.com/cugtyt/kg-explorer/pkg/api"
)

var errNoStore = errors.New("redis.url is not configured; nothing has been saved")

func newGenerateCommand() *cobra.Command {
	var file, output string

	cmd := &cobra.Command{
		Use:   "generate [text]",
		Short: "Extract a knowledge graph from text or a .txt file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			workspace := views.NewWorkspace(a.bus, a.svc, views.WithLogger(a.logger))
			workspace.Mount()
			defer workspace.Unmount()

			switch {
			case file != "":
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				err = workspace.LoadFile(filepath.Base(file), f)
				f.Close()
				if err != nil {
					return errors.New(workspace.Snapshot().ErrorMessage)
				}
			case len(args) == 1:
				workspace.SetInput(args[0])
			}

			req, err := workspace.Generate()
			if err != nil {
				if msg := workspace.Snapshot().ErrorMessage; msg != "" {
					return errors.New(msg)
				}
				return err
			}
			if err := req.Wait(cmd.Context()); err != nil {
				req.Cancel()
				return err
			}

			state := workspace.Snapshot()
			if state.ErrorMessage != "" {
				return errors.New(state.ErrorMessage)
			}
			if output != "" {
				return writeFile(output, func(w io.Writer) error {
					return export.WriteGraphJSON(w, state.Graph)
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), state.FactualTriples)
			if state.VisualGraph != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d nodes, %d edges\n",
					len(state.VisualGraph.Nodes), len(state.VisualGraph.Edges))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read input from a .txt file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the graph JSON to this file instead of printing triples")
	return cmd
}

func newSchemaCommand() *cobra.Command {
	var entities, predicates, metricTypes bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "List the allowed entity, predicate and metric types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			if entities || predicates || metricTypes {
				return printSchemaLists(cmd, a, entities, predicates, metricTypes)
			}
			event, err := a.await(cmd.Context(), a.svc.FetchAllowedTypes)
			if err != nil {
				return err
			}
			switch e := event.(type) {
			case events.AllowedTypesFetchedEvent:
				out := cmd.OutOrStdout()
				printList(out, "Entity types", e.Result.EntityTypes)
				printList(out, "Predicates", e.Result.PredicateTypes)
				printList(out, "Metric types", e.Result.MetricTypes)
				return nil
			case events.AllowedTypesErrorEvent:
				return errors.New(e.UserMessage(e.Error))
			}
			return unexpected(event)
		},
	}
	cmd.Flags().BoolVar(&entities, "entities", false, "only list entity types")
	cmd.Flags().BoolVar(&predicates, "predicates", false, "only list predicates")
	cmd.Flags().BoolVar(&metricTypes, "metrics", false, "only list metric types")
	cmd.MarkFlagsMutuallyExclusive("entities", "predicates", "metrics")
	return cmd
}

// printSchemaLists fetches one list from its own endpoint instead of the
// combined allowed-types call.
func printSchemaLists(cmd *cobra.Command, a *app, entities, predicates, metricTypes bool) error {
	var (
		title string
		fetch func(context.Context) ([]string, error)
	)
	switch {
	case entities:
		title, fetch = "Entity types", a.client.AllowedEntityTypes
	case predicates:
		title, fetch = "Predicates", a.client.AllowedPredicates
	case metricTypes:
		title, fetch = "Metric types", a.client.AllowedMetricTypes
	}
	items, err := fetch(cmd.Context())
	if err != nil {
		return errors.New(api.UserMessage(err, err.Error()))
	}
	printList(cmd.OutOrStdout(), title, items)
	return nil
}

func newQueryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question about the current knowledge graph",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return views.ErrEmptyQuery
			}
			a := appFrom(cmd)
			event, err := a.await(cmd.Context(), func(ctx context.Context) *service.Request {
				return a.svc.QueryGraph(ctx, query)
			})
			if err != nil {
				return err
			}
			switch e := event.(type) {
			case events.QueryAnsweredEvent:
				fmt.Fprintln(cmd.OutOrStdout(), e.Result.Answer)
				return nil
			case events.QueryErrorEvent:
				return errors.New(e.UserMessage(views.QueryFailedMessage))
			}
			return unexpected(event)
		},
	}
}

func newClearConversationCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-conversation",
		Short: "Reset the query conversation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			event, err := a.await(cmd.Context(), a.svc.ClearConversation)
			if err != nil {
				return err
			}
			switch e := event.(type) {
			case events.ConversationClearedEvent:
				fmt.Fprintln(cmd.OutOrStdout(), e.Result.Message)
				return nil
			case events.ConversationClearErrorEvent:
				return errors.New(e.UserMessage(views.ClearFailedMessage))
			}
			return unexpected(event)
		},
	}
}

func newExportCommand() *cobra.Command {
	var (
		dir    string
		toClip bool
	)

	cmd := &cobra.Command{
		Use:       "export graph|triples",
		Short:     "Export the last saved graph or its factual triples",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"graph", "triples"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			if a.graphs == nil {
				return errNoStore
			}
			record, err := a.graphs.LoadGraph(cmd.Context())
			if errors.Is(err, store.ErrNotFound) {
				return export.ErrNothingToExport
			}
			if err != nil {
				return err
			}

			var (
				buf  bytes.Buffer
				name string
			)
			now := time.Now()
			if args[0] == "graph" {
				name = export.GraphFileName(now)
				err = export.WriteGraphJSON(&buf, record.KG)
			} else {
				name = export.TriplesFileName(now)
				err = export.WriteTriples(&buf, record.FactualTriples)
			}
			if err != nil {
				return err
			}

			if toClip {
				if err := export.Copy(buf.String(), export.SystemClipboard(), export.OSC52{W: os.Stdout}, a.logger); err != nil {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "Copied to clipboard")
				return nil
			}

			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "directory to write the export into")
	cmd.Flags().BoolVar(&toClip, "copy", false, "copy to the clipboard instead of writing a file")
	return cmd
}

func writeFile(path string, write func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func printList(w io.Writer, title string, items []string) {
	fmt.Fprintf(w, "%s:\n", title)
	if len(items) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", item)
	}
}

func unexpected(event eventbus.Event) error {
	return fmt.Errorf("unexpected event %s", event.EventName())
}
