package main

import (
	"fmt"
	"os"

	"face-attendance-go/internal/core/enroll"
	"face-attendance-go/internal/core/recognition"
	"face-attendance-go/internal/integrations/opencv"
	"face-attendance-go/internal/integrations/provider"

	"github.com/spf13/cobra"
	log "github.com/sirupsen/logrus"
)

var enrollOpts struct {
	camera     bool
	frames     int
	every      int
	replace    bool
	employeeID string
	department string
}

var enrollCmd = &cobra.Command{
	Use:   "enroll <name> [images...]",
	Short: "Enrol a person from images or camera frames",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name, paths := args[0], args[1:]

		repo, err := app.store()
		if err != nil {
			return err
		}
		loaded, err := provider.Load(app.cfg)
		if err != nil {
			return err
		}
		defer loaded.Close()

		gallery, err := enroll.OpenGallery(ctx, repo, app.cfg.Recognition.GalleryFile, loaded.Embedder.Kind(), loaded.Embedder.Dim())
		if err != nil {
			return err
		}
		if gallery.Kind() == recognition.KindDescriptor && len(paths) == 0 && !enrollOpts.camera {
			return fmt.Errorf("no images given (pass image files or --camera)")
		}

		samples, err := enroll.LoadImages(paths)
		if err != nil {
			return err
		}
		if enrollOpts.camera {
			camera, err := opencv.OpenCamera(app.cfg.Camera)
			if err != nil {
				return err
			}
			log.Infof("Look into the camera, capturing %d frames", enrollOpts.frames)
			captured, err := enroll.CaptureSamples(ctx, camera, loaded.Locator, enrollOpts.frames, enrollOpts.every, os.Stderr)
			camera.Close()
			if err != nil {
				return err
			}
			samples = append(samples, captured...)
		}

		enroller := enroll.NewEnroller(repo, gallery, loaded.Locator, loaded.Embedder, loaded.Labels)
		res, err := enroller.Enroll(ctx, name, samples, enroll.Options{
			Replace:    enrollOpts.replace,
			Progress:   os.Stderr,
			EmployeeID: enrollOpts.employeeID,
			Department: enrollOpts.department,
		})
		if err != nil {
			return err
		}
		if err := gallery.Save(app.cfg.Recognition.GalleryFile); err != nil {
			return err
		}

		action := "Enrolled"
		if res.Replaced {
			action = "Re-enrolled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (ID %d) with %d samples", action, res.Person.Name, res.Person.ID, res.Samples)
		if res.Skipped > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), ", %d images skipped", res.Skipped)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <name>",
	Short: "Remove a person from the gallery (attendance history is kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := app.store()
		if err != nil {
			return err
		}
		gallery, err := app.loadGallery(cmd.Context(), repo)
		if err != nil {
			return err
		}

		enroller := enroll.NewEnroller(repo, gallery, nil, nil, nil)
		person, removed, err := enroller.Forget(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if person == nil {
			return fmt.Errorf("unknown person %q", args[0])
		}
		// auch ohne Treffer können beim Laden verwaiste Einträge entfernt worden sein
		if _, err := gallery.SaveIfDirty(app.cfg.Recognition.GalleryFile); err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is not enrolled\n", person.Name)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s (ID %d)\n", person.Name, person.ID)
		return nil
	},
}

func init() {
	f := enrollCmd.Flags()
	f.BoolVar(&enrollOpts.camera, "camera", false, "capture enrolment frames from the configured camera")
	f.IntVar(&enrollOpts.frames, "frames", 5, "number of camera frames to capture")
	f.IntVar(&enrollOpts.every, "every", 5, "use every n-th camera frame")
	f.BoolVar(&enrollOpts.replace, "replace", false, "replace the samples of an enrolled person")
	f.StringVar(&enrollOpts.employeeID, "employee-id", "", "optional employee number")
	f.StringVar(&enrollOpts.department, "department", "", "optional department")
}
