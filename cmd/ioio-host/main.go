// Command ioio-host connects to an IOIO board, prints its version
// information and blinks the stat LED until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"ioio/core"
	"ioio/serial"
	"ioio/tcp"
)

func main() {
	serialDev := flag.String("serial", "", "serial device of the board (e.g. /dev/ttyACM0)")
	tcpAddr := flag.String("tcp", "", "TCP address of the board (e.g. 192.168.0.5:4545)")
	flag.Parse()

	var transport core.Transport
	switch {
	case *serialDev != "":
		transport = serial.New(serial.DefaultConfig(*serialDev))
	case *tcpAddr != "":
		transport = tcp.Dial(*tcpAddr)
	default:
		fmt.Fprintln(os.Stderr, "usage: ioio-host -serial DEV | -tcp ADDR")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	board := core.New(transport)
	if err := board.WaitForConnect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer board.Disconnect()

	fmt.Printf("hardware:   %s\n", board.HardwareID())
	fmt.Printf("bootloader: %s\n", board.BootloaderID())
	fmt.Printf("firmware:   %s\n", board.FirmwareID())

	// The stat LED is active low.
	led, err := board.OpenDigitalOutput(core.StatLedPin, true, false)
	if err != nil {
		log.Fatalf("open stat led: %v", err)
	}

	on := false
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			led.Close()
			return
		case <-ticker.C:
			on = !on
			if err := led.Write(!on); err != nil {
				log.Fatalf("write stat led: %v", err)
			}
		}
	}
}
