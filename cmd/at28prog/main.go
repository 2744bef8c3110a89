package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hexium/at28prog/internal/bus"
	"github.com/hexium/at28prog/internal/client"
	"github.com/hexium/at28prog/internal/detect"
	"github.com/hexium/at28prog/internal/emu"
	"github.com/hexium/at28prog/internal/serial"
	"github.com/hexium/at28prog/internal/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	portFlag    string
	baudFlag    int
	emulateFlag bool
	sizeFlag    int
	outputFlag  string
)

const defaultBaudRate = 115200

func main() {
	rootCmd := &cobra.Command{
		Use:   "at28prog",
		Short: "Read and program AT28C256 parallel EEPROMs",
		Long: `at28prog talks to an AT28C256 EEPROM programmer board over a serial
link using a framed, acknowledgement-based protocol.

Read or write individual addresses, dump the full device contents to a
file, or load an image file onto the EEPROM. Addresses and values accept
hex (0x1F), octal (0o17) and decimal notation.

The same binary also runs the programmer side itself: on a board with
GPIO access to the EEPROM bus, 'at28prog serve' answers the protocol.`,
	}
	rootCmd.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	rootCmd.PersistentFlags().IntVarP(&baudFlag, "baud", "b", defaultBaudRate, "Baud rate")
	rootCmd.PersistentFlags().BoolVar(&emulateFlag, "emulate", false, "Talk to an in-process emulated programmer instead of hardware")

	readCmd := &cobra.Command{
		Use:   "read <addr>",
		Short: "Read one byte",
		Args:  cobra.ExactArgs(1),
		RunE:  runRead,
	}

	writeCmd := &cobra.Command{
		Use:   "write <addr> <value>",
		Short: "Write one byte",
		Args:  cobra.ExactArgs(2),
		RunE:  runWrite,
	}

	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump device contents",
		Long:  "Dump the EEPROM contents to a file or stdout, front to back.",
		RunE:  runDump,
	}
	dumpCmd.Flags().IntVarP(&sizeFlag, "size", "s", bus.DeviceSize, "Only dump the first n bytes")
	dumpCmd.Flags().StringVarP(&outputFlag, "output", "o", "-", "Output file (- for stdout)")

	loadCmd := &cobra.Command{
		Use:   "load <image.bin>",
		Short: "Load an image onto the device",
		Long: `Load a binary image onto the EEPROM, starting at address 0.

Use - to read the image from stdin. Images larger than the device are
truncated to 32 KiB.`,
		Args: cobra.ExactArgs(1),
		RunE: runLoad,
	}

	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Write random data and read it back for verification",
		RunE:  runTest,
	}
	testCmd.Flags().IntVarP(&sizeFlag, "size", "s", bus.DeviceSize, "Test only the first n bytes")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Send a reset command",
		RunE:  runReset,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("at28prog %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(readCmd, writeCmd, dumpCmd, loadCmd, testCmd, resetCmd, listCmd, versionCmd, newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openDevice connects to the programmer: the configured or autodetected
// serial port, or an in-process emulated board when --emulate is set.
func openDevice() (io.ReadWriter, func(), error) {
	if emulateFlag {
		return openEmulated()
	}

	portName := portFlag
	if portName == "" {
		found, err := detect.Find()
		if err != nil {
			return nil, nil, err
		}
		portName = found
		fmt.Fprintf(os.Stderr, "Using %s\n", portName)
	}

	port, err := serial.Open(portName, baudFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open port: %w", err)
	}

	// Opening the port auto-resets most boards; give the firmware a
	// moment to come up.
	time.Sleep(2 * time.Second)
	port.Flush()

	return port, func() { port.Close() }, nil
}

// openEmulated wires a fully emulated programmer (server loop plus
// emulated EEPROM) to the near end of an in-memory pipe.
func openEmulated() (io.ReadWriter, func(), error) {
	chip := emu.NewChip()
	rom, err := bus.New(chip.Pins(), bus.Timings{})
	if err != nil {
		return nil, nil, err
	}

	hostEnd, devEnd := net.Pipe()
	srv := server.New(devEnd, rom, server.WithBlinkInterval(0))

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)

	cleanup := func() {
		cancel()
		hostEnd.Close()
		devEnd.Close()
	}
	return hostEnd, cleanup, nil
}

func runRead(cmd *cobra.Command, args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}

	rw, cleanup, err := openDevice()
	if err != nil {
		return err
	}
	defer cleanup()

	val, err := client.New(rw).ReadByte(addr)
	if err != nil {
		return err
	}
	fmt.Printf("%d / 0x%02x\n", val, val)
	return nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	val, err := strconv.ParseUint(args[1], 0, 8)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}

	rw, cleanup, err := openDevice()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := client.New(rw).WriteByte(addr, byte(val)); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

func runDump(cmd *cobra.Command, args []string) error {
	var out io.Writer = os.Stdout
	showProgress := false
	if outputFlag != "-" {
		f, err := os.Create(outputFlag)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
		showProgress = true
	}

	rw, cleanup, err := openDevice()
	if err != nil {
		return err
	}
	defer cleanup()

	var progress client.Progress
	if showProgress {
		bar := newBar(sizeFlag, "Dumping")
		progress = func(n int) { bar.Set(n) }
		defer bar.Finish()
	}

	if err := client.New(rw).Dump(out, sizeFlag, progress); err != nil {
		return err
	}
	if showProgress {
		fmt.Fprintf(os.Stderr, "Dumped %d bytes to %s\n", sizeFlag, outputFlag)
	}
	return nil
}

func runLoad(cmd *cobra.Command, args []string) error {
	var src io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to read image file: %w", err)
		}
		defer f.Close()
		src = f
	}

	image, err := io.ReadAll(io.LimitReader(src, bus.DeviceSize))
	if err != nil {
		return err
	}
	if len(image) == 0 {
		return fmt.Errorf("image is empty")
	}

	rw, cleanup, err := openDevice()
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Fprintf(os.Stderr, "Loading %d bytes onto EEPROM...\n", len(image))
	bar := newBar(len(image), "Loading")
	err = client.New(rw).Load(bytes.NewReader(image), len(image), func(n int) { bar.Set(n) })
	bar.Finish()
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Complete.")
	return nil
}

func runTest(cmd *cobra.Command, args []string) error {
	rw, cleanup, err := openDevice()
	if err != nil {
		return err
	}
	defer cleanup()

	data := make([]byte, sizeFlag)
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	rnd.Read(data)

	c := client.New(rw)

	fmt.Fprintln(os.Stderr, "Writing...")
	bar := newBar(len(data), "Loading")
	err = c.Load(bytes.NewReader(data), len(data), func(n int) { bar.Set(n) })
	bar.Finish()
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, "Reading back...")
	var got bytes.Buffer
	bar = newBar(len(data), "Dumping")
	err = c.Dump(&got, len(data), func(n int) { bar.Set(n) })
	bar.Finish()
	if err != nil {
		return err
	}

	for i, b := range got.Bytes() {
		if b != data[i] {
			return fmt.Errorf("verification failed at 0x%04x: wrote 0x%02x, read 0x%02x", i, data[i], b)
		}
	}
	fmt.Println("OK")
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	rw, cleanup, err := openDevice()
	if err != nil {
		return err
	}
	defer cleanup()
	return client.New(rw).Reset()
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}
	return nil
}

func newBar(size int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(size,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetWriter(os.Stderr),
	)
}

func parseAddr(s string) (uint16, error) {
	addr, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if addr >= bus.DeviceSize {
		return 0, fmt.Errorf("address 0x%x outside device range 0-0x%x", addr, bus.DeviceSize-1)
	}
	return uint16(addr), nil
}
