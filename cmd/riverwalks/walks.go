package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
)

var walksCmd = &cobra.Command{
	Use:   "walks",
	Short: "Manage river walks",
}

var walksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all river walks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(log.New(os.Stderr, "", 0))
		if err != nil {
			return err
		}
		defer a.close()

		walks, err := a.engine.ListWalks(cmd.Context())
		if err != nil {
			return err
		}
		if len(walks) == 0 {
			fmt.Println("No river walks recorded")
			return nil
		}

		for _, w := range walks {
			marker := " "
			if !w.Synced || w.HasPendingChanges {
				marker = "*"
			}
			fmt.Printf("%s %-28s  %s  %s  [%s]\n",
				marker, w.Name, w.WalkDate.Format("2006-01-02"), w.RiverName, w.LocalID)
		}
		fmt.Println("\n* = has changes not yet synced")
		return nil
	},
}

var walksCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Record a new river walk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		river, _ := cmd.Flags().GetString("river")
		location, _ := cmd.Flags().GetString("location")
		dateStr, _ := cmd.Flags().GetString("date")

		date := time.Now()
		if dateStr != "" {
			var err error
			date, err = time.Parse("2006-01-02", dateStr)
			if err != nil {
				return fmt.Errorf("invalid date %q (want YYYY-MM-DD)", dateStr)
			}
		}

		a, err := openApp(log.Default())
		if err != nil {
			return err
		}
		defer a.close()

		walk := &schema.RiverWalk{
			Name:      args[0],
			RiverName: river,
			Location:  location,
			WalkDate:  date,
		}
		if err := a.engine.CreateRecord(cmd.Context(), walk); err != nil {
			return err
		}
		fmt.Printf("Created walk %s (%s)\n", walk.Name, walk.LocalID)
		return nil
	},
}

var walksDeleteCmd = &cobra.Command{
	Use:   "delete <walk-id>",
	Short: "Delete a river walk and all its sites",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(log.Default())
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.engine.DeleteRecord(cmd.Context(), schema.TableWalks, args[0]); err != nil {
			return err
		}
		fmt.Println("Walk deleted")
		return nil
	},
}

var walksExportCmd = &cobra.Command{
	Use:   "export <walk-id>",
	Short: "Export a walk's measurements as CSV",
	Long: `Write a walk's sites and measurement points to stdout as CSV, or to a
file with --out. Export reads only local data and works offline.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("out")

		a, err := openApp(log.New(os.Stderr, "", 0))
		if err != nil {
			return err
		}
		defer a.close()

		out := os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		if err := a.engine.ExportCSV(cmd.Context(), args[0], out); err != nil {
			return err
		}
		if outPath != "" {
			fmt.Fprintf(os.Stderr, "Exported to %s\n", outPath)
		}
		return nil
	},
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Manage measurement sites within a walk",
}

var sitesListCmd = &cobra.Command{
	Use:   "list <walk-id>",
	Short: "List a walk's sites",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(log.New(os.Stderr, "", 0))
		if err != nil {
			return err
		}
		defer a.close()

		sites, err := a.engine.ListSites(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, s := range sites {
			points, err := a.engine.ListPoints(cmd.Context(), s.LocalID)
			if err != nil {
				return err
			}
			fmt.Printf("%2d. %-20s width %.2fm, %d points  [%s]\n",
				s.Number, s.Name, s.RiverWidth, len(points), s.LocalID)
		}
		return nil
	},
}

var sitesAddCmd = &cobra.Command{
	Use:   "add <walk-id>",
	Short: "Add a site to a walk",
	Long: `Add the next numbered site to a walk. With --width and --points the
site is pre-filled with evenly spaced measurement points across the
river, ready for depth entry.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		width, _ := cmd.Flags().GetFloat64("width")
		numPoints, _ := cmd.Flags().GetInt("points")

		a, err := openApp(log.Default())
		if err != nil {
			return err
		}
		defer a.close()

		site := &schema.Site{
			RiverWalkID: args[0],
			RiverWidth:  width,
		}
		if err := a.engine.CreateRecord(cmd.Context(), site); err != nil {
			return err
		}

		if width > 0 && numPoints > 0 {
			for i, dist := range schema.EvenDistances(width, numPoints) {
				point := &schema.MeasurementPoint{
					SiteID:    site.LocalID,
					Number:    i + 1,
					DistanceM: dist,
				}
				if err := a.engine.CreateRecord(cmd.Context(), point); err != nil {
					return err
				}
			}
		}
		fmt.Printf("Added %s (%s)\n", site.Name, site.LocalID)
		return nil
	},
}

var sitesPhotoCmd = &cobra.Command{
	Use:   "photo <site-id> <file>",
	Short: "Attach a photo to a site",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kindStr, _ := cmd.Flags().GetString("kind")
		kind := schema.PhotoKind(kindStr)

		a, err := openApp(log.Default())
		if err != nil {
			return err
		}
		defer a.close()

		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()

		photo, err := a.engine.AttachPhoto(cmd.Context(), args[0], kind, args[1], f)
		if err != nil {
			return err
		}
		fmt.Printf("Attached %s (%s), upload queued\n", photo.FileName, photo.LocalID)
		return nil
	},
}

func init() {
	walksCreateCmd.Flags().String("river", "", "river name")
	walksCreateCmd.Flags().String("location", "", "location description")
	walksCreateCmd.Flags().String("date", "", "walk date (YYYY-MM-DD, default today)")
	walksExportCmd.Flags().String("out", "", "output file (default stdout)")
	sitesAddCmd.Flags().Float64("width", 0, "river width in metres")
	sitesAddCmd.Flags().Int("points", 0, "number of evenly spaced measurement points")
	sitesPhotoCmd.Flags().String("kind", string(schema.KindSitePhoto), "photo kind (site_photo or sediment_photo)")

	walksCmd.AddCommand(walksListCmd)
	walksCmd.AddCommand(walksCreateCmd)
	walksCmd.AddCommand(walksDeleteCmd)
	walksCmd.AddCommand(walksExportCmd)
	sitesCmd.AddCommand(sitesListCmd)
	sitesCmd.AddCommand(sitesAddCmd)
	sitesCmd.AddCommand(sitesPhotoCmd)

	rootCmd.AddCommand(walksCmd)
	rootCmd.AddCommand(sitesCmd)
}
