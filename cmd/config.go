// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cellwarden/pkg/bms"
	"github.com/Thermoquad/cellwarden/pkg/eeprom"
	"github.com/Thermoquad/cellwarden/pkg/packfile"
)

var exportName string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the persisted pack configuration",
	Long: `Inspect and edit the pack configuration image selected by --eeprom.

Changes are validated before they are written. A running controller picks
them up on its next start.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Change one configuration field",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configImportCmd = &cobra.Command{
	Use:   "import <pack.yaml>",
	Short: "Replace the stored configuration with a pack description file",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigImport,
}

var configExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the stored configuration as a pack description file",
	Args:  cobra.NoArgs,
	RunE:  runConfigExport,
}

var configDefaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Overwrite the stored configuration with the built-in defaults",
	Args:  cobra.NoArgs,
	RunE:  runConfigDefaults,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetCmd, configImportCmd, configExportCmd, configDefaultsCmd)
	configExportCmd.Flags().StringVar(&exportName, "name", "pack", "Pack name written to the file")
}

func openStore() (*eeprom.Store, *logrus.Logger, error) {
	log, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	return eeprom.NewStore(eeprom.File{Path: eepromPath}, log), log, nil
}

// loadPackConfig loads the stored configuration, writing the defaults when
// no image exists yet.
func loadPackConfig(store *eeprom.Store, log logrus.FieldLogger) (bms.PackConfig, error) {
	cfg, res, err := store.Load()
	switch {
	case errors.Is(err, eeprom.ErrNotFound):
		log.WithField("path", eepromPath).Info("no stored configuration, writing defaults")
		return store.WriteDefaults()
	case err != nil:
		return cfg, err
	case res.Fallback:
		log.WithField("reason", res.Reason).Warn("using default configuration")
	}
	return cfg, nil
}

func printConfig(cfg *bms.PackConfig) {
	for _, f := range eeprom.Fields() {
		fmt.Printf("%-20s %d\n", f, f.Get(cfg))
	}
	fmt.Printf("%-20s %v\n", "module_cell_count", cfg.ModuleCellCount)
	fmt.Printf("%-20s %d\n", "total_cells", cfg.TotalCells())
	fmt.Printf("%-20s %d mV\n", "charge_voltage", cfg.ChargeVoltagemV())
	fmt.Printf("%-20s %d mA\n", "charge_current", cfg.ChargeCurrentmA())
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}

	cfg, res, err := store.Load()
	source := "stored"
	switch {
	case errors.Is(err, eeprom.ErrNotFound):
		source = "defaults (no image)"
	case err != nil:
		return err
	case res.Fallback:
		source = fmt.Sprintf("defaults (%s)", res.Reason)
	}

	fmt.Printf("Image: %s\n", eepromPath)
	fmt.Printf("Source: %s\n\n", source)
	printConfig(&cfg)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}

	field, err := eeprom.ParseField(args[0])
	if err != nil {
		return err
	}
	v, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}

	cfg, err := store.ChangeConfig(field, uint32(v))
	if err != nil {
		return err
	}
	fmt.Printf("%s = %d\n", field, field.Get(&cfg))
	return nil
}

func runConfigImport(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}

	f, err := packfile.Load(args[0])
	if err != nil {
		return err
	}
	cfg := f.PackConfig()
	if err := store.Save(cfg); err != nil {
		return err
	}

	fmt.Printf("Imported %q from %s\n\n", f.Pack.Name, args[0])
	printConfig(&cfg)
	return nil
}

func runConfigExport(cmd *cobra.Command, args []string) error {
	store, log, err := openStore()
	if err != nil {
		return err
	}

	cfg, _, err := store.Load()
	if errors.Is(err, eeprom.ErrNotFound) {
		log.Warn("no stored configuration, exporting defaults")
	} else if err != nil {
		return err
	}

	data, err := packfile.FromPackConfig(exportName, &cfg).Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runConfigDefaults(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}

	cfg, err := store.WriteDefaults()
	if err != nil {
		return err
	}
	printConfig(&cfg)
	return nil
}
