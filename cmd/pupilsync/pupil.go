package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bridgelabs/pupilsync/internal/repo"
	"github.com/bridgelabs/pupilsync/internal/store"
)

var (
	pupilName      string
	pupilCountry   string
	pupilImage     string
	pupilLatitude  float64
	pupilLongitude float64
)

var pupilCmd = &cobra.Command{
	Use:   "pupil",
	Short: "Work with the local pupil roster",
	Long: `Read and edit the roster. Edits take effect locally right away; the
remote roster service is updated immediately when reachable, otherwise the
change is queued and replayed on the next sync pass.`,
}

var pupilListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pupils in the local roster",
	Run: func(cmd *cobra.Command, args []string) {
		r, db := newRepository()
		defer db.Close()

		ctx, cancel := commandContext()
		defer cancel()

		pupils, err := r.Pupils(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing pupils: %v\n", err)
			os.Exit(1)
		}
		if len(pupils) == 0 {
			fmt.Println("No pupils in the local roster.")
			return
		}
		fmt.Printf("%-6s %-8s %-24s %-16s %9s %9s  %s\n",
			"LOCAL", "REMOTE", "NAME", "COUNTRY", "LAT", "LNG", "STATE")
		for i := range pupils {
			fmt.Println(formatPupil(&pupils[i]))
		}
	},
}

var pupilShowCmd = &cobra.Command{
	Use:   "show <local-id>",
	Short: "Show one pupil",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseLocalID(args[0])
		r, db := newRepository()
		defer db.Close()

		ctx, cancel := commandContext()
		defer cancel()

		p, err := r.GetPupil(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading pupil: %v\n", err)
			os.Exit(1)
		}
		if p == nil {
			fmt.Fprintf(os.Stderr, "No pupil with local id %d\n", id)
			os.Exit(1)
		}
		fmt.Println(formatPupil(p))
		if p.Image != nil {
			fmt.Printf("Image: %s\n", *p.Image)
		}
	},
}

var pupilAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a pupil",
	Long: `Add a pupil to the roster. The pupil is visible immediately; if the
roster service rejects or cannot receive the create, the pupil stays queued
until a sync pass succeeds.`,
	Run: func(cmd *cobra.Command, args []string) {
		p := &store.Pupil{
			Name:      pupilName,
			Country:   pupilCountry,
			Latitude:  pupilLatitude,
			Longitude: pupilLongitude,
		}
		if pupilImage != "" {
			p.Image = &pupilImage
		}

		r, db := newRepository()
		defer db.Close()

		ctx, cancel := commandContext()
		defer cancel()

		if err := r.AddPupil(ctx, p); err != nil {
			fmt.Fprintf(os.Stderr, "Error adding pupil: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(formatPupil(p))
	},
}

var pupilUpdateCmd = &cobra.Command{
	Use:   "update <local-id>",
	Short: "Update a pupil",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseLocalID(args[0])
		r, db := newRepository()
		defer db.Close()

		ctx, cancel := commandContext()
		defer cancel()

		p, err := r.GetPupil(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading pupil: %v\n", err)
			os.Exit(1)
		}
		if p == nil {
			fmt.Fprintf(os.Stderr, "No pupil with local id %d\n", id)
			os.Exit(1)
		}

		flags := cmd.Flags()
		if flags.Changed("name") {
			p.Name = pupilName
		}
		if flags.Changed("country") {
			p.Country = pupilCountry
		}
		if flags.Changed("image") {
			if pupilImage == "" {
				p.Image = nil
			} else {
				p.Image = &pupilImage
			}
		}
		if flags.Changed("lat") {
			p.Latitude = pupilLatitude
		}
		if flags.Changed("lng") {
			p.Longitude = pupilLongitude
		}

		if err := r.UpdatePupil(ctx, p); err != nil {
			fmt.Fprintf(os.Stderr, "Error updating pupil: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(formatPupil(p))
	},
}

var pupilDeleteCmd = &cobra.Command{
	Use:   "delete <local-id>",
	Short: "Delete a pupil",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseLocalID(args[0])
		r, db := newRepository()
		defer db.Close()

		ctx, cancel := commandContext()
		defer cancel()

		if err := r.DeletePupil(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting pupil: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted pupil %d\n", id)
	},
}

// newRepository wires a repository for one-shot CLI use. There is no
// scheduler: CLI invocations rely on the daemon (or an explicit sync) to
// replay anything they queue.
func newRepository() (*repo.Repository, *store.DB) {
	cfg := loadConfig()
	db := openStore(cfg)
	return repo.New(db, newRosterClient(cfg), nil, nil), db
}

func parseLocalID(arg string) int64 {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid pupil id %q\n", arg)
		os.Exit(1)
	}
	return id
}

func init() {
	for _, c := range []*cobra.Command{pupilAddCmd, pupilUpdateCmd} {
		c.Flags().StringVar(&pupilName, "name", "", "pupil name")
		c.Flags().StringVar(&pupilCountry, "country", "", "pupil country")
		c.Flags().StringVar(&pupilImage, "image", "", "image URL")
		c.Flags().Float64Var(&pupilLatitude, "lat", 0, "latitude")
		c.Flags().Float64Var(&pupilLongitude, "lng", 0, "longitude")
	}
	_ = pupilAddCmd.MarkFlagRequired("name")
	_ = pupilAddCmd.MarkFlagRequired("country")

	pupilCmd.AddCommand(pupilListCmd)
	pupilCmd.AddCommand(pupilShowCmd)
	pupilCmd.AddCommand(pupilAddCmd)
	pupilCmd.AddCommand(pupilUpdateCmd)
	pupilCmd.AddCommand(pupilDeleteCmd)
	rootCmd.AddCommand(pupilCmd)
}
