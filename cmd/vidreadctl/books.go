package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

var (
	bookByJob bool
	filter    models.BookFilter
)

var bookCmd = &cobra.Command{
	Use:   "book <id>",
	Short: "Print a book as JSON",
	Long:  "Print a book by its id, or with --job the latest book version produced by a job.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}
		c, err := apiClient()
		if err != nil {
			return err
		}
		var book *models.Book
		if bookByJob {
			book, err = c.JobBook(cmd.Context(), id)
		} else {
			book, err = c.Book(cmd.Context(), id)
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), book)
	},
}

var deleteBookCmd = &cobra.Command{
	Use:   "delete-book <id>",
	Short: "Delete a book",
	Long:  "Delete a book. The server keeps earlier versions and records the deletion as a new one.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}
		c, err := apiClient()
		if err != nil {
			return err
		}
		version, err := c.DeleteBook(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted at version %d\n", version)
		return nil
	},
}

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "List books",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		list, err := c.Books(cmd.Context(), filter)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tVERSION\tTITLE\tAUTHOR\tCHAPTERS")
		for _, b := range list.Books {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\n", b.ID, b.Version, b.Title, b.Author, b.ChapterCount)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d\n", len(list.Books), list.Total)
		return nil
	},
}

func init() {
	bookCmd.Flags().BoolVar(&bookByJob, "job", false, "treat the id as a job id")

	booksCmd.Flags().StringVar(&filter.Search, "search", "", "match title or summary")
	booksCmd.Flags().StringVar(&filter.Author, "author", "", "exact author (case-insensitive)")
	booksCmd.Flags().StringVar(&filter.Theme, "theme", "", "books tagged with this theme")
	booksCmd.Flags().IntVar(&filter.Limit, "limit", models.DefaultBookPageSize, "page size")
	booksCmd.Flags().IntVar(&filter.Offset, "offset", 0, "page offset")
}
