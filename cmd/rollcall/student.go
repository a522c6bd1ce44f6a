package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/rollcall/pkg/ledger"
)

var studentCmd = &cobra.Command{
	Use:   "student",
	Short: "Manage the student roster",
}

var studentAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a student to the roster",
	Long: `Add a student to the roster. The id is chosen automatically unless --id
is given; it is the label the face model learns for this student.

Examples:
  rollcall student add "Ana Souza" --course "Computer Science"
  rollcall student add "Bruno Lima" --id 7 --birth 2004-05-17`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStudentAdd,
}

var studentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled students and their sample counts",
	Args:  cobra.NoArgs,
	RunE:  runStudentList,
}

var studentRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a student, their attendance and their face samples",
	Args:  cobra.ExactArgs(1),
	RunE:  runStudentRm,
}

func init() {
	rootCmd.AddCommand(studentCmd)
	studentCmd.AddCommand(studentAddCmd, studentListCmd, studentRmCmd)

	studentAddCmd.Flags().Int64("id", 0, "Explicit student id (default: next free id)")
	studentAddCmd.Flags().String("course", "", "Course or class name")
	studentAddCmd.Flags().String("birth", "", "Birth date (YYYY-MM-DD)")
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, newUsageError(fmt.Errorf("invalid student id %q", arg))
	}
	return id, nil
}

func runStudentAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	ident := &ledger.Identity{
		ID:     mustGetInt64(cmd, "id"),
		Name:   strings.Join(args, " "),
		Course: mustGetString(cmd, "course"),
	}
	if birth := mustGetString(cmd, "birth"); birth != "" {
		b, err := time.Parse("2006-01-02", birth)
		if err != nil {
			return newUsageError(fmt.Errorf("invalid birth date %q, want YYYY-MM-DD", birth))
		}
		ident.BirthDate = &b
	}

	l, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	if err := l.CreateIdentity(ctx, ident); err != nil {
		return err
	}
	fmt.Printf("Added student %d: %s\n", ident.ID, ident.Name)
	fmt.Printf("Next: rollcall enroll %d\n", ident.ID)
	return nil
}

func runStudentList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	l, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	idents, err := l.ListIdentities(ctx)
	if err != nil {
		return err
	}
	if len(idents) == 0 {
		fmt.Println("No students enrolled.")
		return nil
	}

	samples, err := openSamples()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCOURSE\tSAMPLES")
	for _, id := range idents {
		n, err := samples.Count(id.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", id.ID, id.Name, id.Course, n)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nTotal: %d student(s)\n", len(idents))
	return nil
}

func runStudentRm(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	l, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	if err := l.DeleteIdentity(ctx, id); err != nil {
		return err
	}

	samples, err := openSamples()
	if err != nil {
		return err
	}
	n, err := samples.Delete(id)
	if err != nil {
		return err
	}
	fmt.Printf("Removed student %d and %d face sample(s).\n", id, n)
	if n > 0 {
		fmt.Println("Run 'rollcall train' to drop them from the model.")
	}
	return nil
}
