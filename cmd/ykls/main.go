// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

// ykls lists attached YubiKeys and reads or updates their configuration.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	yubikey "cunicu.li/go-yubikey"
	"cunicu.li/go-yubikey/discover"
)

func main() {
	app := &cli.Command{
		Name:  "ykls",
		Usage: "Inspect and configure attached YubiKeys",
		Commands: []*cli.Command{
			listCommand(),
			infoCommand(),
			configCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:   "list",
		Usage:  "List attached devices",
		Action: runListCommand,
	}
}

func runListCommand(_ context.Context, _ *cli.Command) error {
	devices, err := discover.Devices()
	if len(devices) == 0 && err != nil {
		return err
	}

	for _, d := range devices {
		serial := "-"
		if d.Info.Serial != nil {
			serial = fmt.Sprint(*d.Info.Serial)
		}

		var kinds []string
		for _, h := range d.Handles() {
			kinds = append(kinds, h.Kind.String())
		}

		fmt.Printf("%-10s %-8s %-16s %s\n", serial, d.Info.Version, d.Info.FormFactor, strings.Join(kinds, ","))
	}

	return nil
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show the device info page",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "serial",
				Usage: "Serial number of the device to inspect",
			},
		},
		Action: runInfoCommand,
	}
}

func runInfoCommand(_ context.Context, cmd *cli.Command) error {
	d, err := findDevice(uint32(cmd.Uint("serial")))
	if err != nil {
		return err
	}

	info := d.Info
	if fresh, err := d.ReadDeviceInfo(); err == nil {
		info = fresh
	}

	if info.Serial != nil {
		fmt.Printf("Serial:            %d\n", *info.Serial)
	}
	fmt.Printf("Firmware:          %s\n", info.Version)
	fmt.Printf("Form factor:       %s\n", info.FormFactor)
	fmt.Printf("USB supported:     %s\n", info.SupportedUSB)
	fmt.Printf("USB enabled:       %s\n", info.EnabledUSB)
	if info.SupportedNFC != 0 {
		fmt.Printf("NFC supported:     %s\n", info.SupportedNFC)
		fmt.Printf("NFC enabled:       %s\n", info.EnabledNFC)
	}
	fmt.Printf("FIPS:              %t\n", info.IsFIPS)
	fmt.Printf("Security Key:      %t\n", info.IsSky)
	fmt.Printf("Config locked:     %t\n", info.ConfigLocked)

	return nil
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Update the device configuration",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "serial",
				Usage: "Serial number of the device to configure",
			},
			&cli.UintFlag{
				Name:  "enabled-usb",
				Usage: "Capability bitmask to enable over USB",
			},
			&cli.UintFlag{
				Name:  "auto-eject-timeout",
				Usage: "Auto-eject timeout in seconds",
			},
			&cli.UintFlag{
				Name:  "chalresp-timeout",
				Usage: "Challenge-response timeout in seconds",
			},
		},
		Action: runConfigCommand,
	}
}

func runConfigCommand(_ context.Context, cmd *cli.Command) error {
	d, err := findDevice(uint32(cmd.Uint("serial")))
	if err != nil {
		return err
	}

	var cfg yubikey.DeviceConfig

	if cmd.IsSet("enabled-usb") {
		caps := yubikey.Capability(cmd.Uint("enabled-usb"))
		cfg.EnabledUSB = &caps
	}
	if cmd.IsSet("auto-eject-timeout") {
		timeout := uint16(cmd.Uint("auto-eject-timeout"))
		cfg.AutoEjectTimeout = &timeout
	}
	if cmd.IsSet("chalresp-timeout") {
		timeout := byte(cmd.Uint("chalresp-timeout"))
		cfg.ChallengeResponseTimeout = &timeout
	}

	if err := d.SetDeviceConfig(cfg); err != nil {
		return fmt.Errorf("failed to apply configuration: %w", err)
	}

	return nil
}

func findDevice(serial uint32) (*yubikey.Device, error) {
	devices, err := discover.Devices()
	if len(devices) == 0 {
		if err != nil {
			return nil, err
		}

		return nil, errors.New("no devices found")
	}

	if serial == 0 {
		if len(devices) > 1 {
			return nil, errors.New("multiple devices found, select one with --serial")
		}

		return devices[0], nil
	}

	for _, d := range devices {
		if d.Info.Serial != nil && *d.Info.Serial == serial {
			return d, nil
		}
	}

	return nil, fmt.Errorf("no device with serial %d", serial)
}
