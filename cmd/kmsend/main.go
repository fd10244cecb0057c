// kmsend - verified message delivery to the KakaoTalk desktop client
//
// Every message is sent through the application's own search box, and the
// selected contact is confirmed by reading the window back with OCR before
// anything is pasted:
//
//	kmsend serve            Run the local web page (upload, start, live log)
//	kmsend run -file F      Deliver to a recipient list from the terminal
//	kmsend verify -name N   Capture and verify the current search result
//	kmsend windows          List windows the locator can see
//	kmsend history          Show stored runs
//	kmsend doctor           Check automation tools, OCR and storage
//	kmsend config <action>  Create, show or validate the configuration
package main

import (
	"fmt"
	"os"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		cmdServe(args)
	case "run":
		cmdRun(args)
	case "verify":
		cmdVerify(args)
	case "windows":
		cmdWindows(args)
	case "history":
		cmdHistory(args)
	case "doctor":
		cmdDoctor(args)
	case "config":
		cmdConfig(args)
	case "version":
		fmt.Println("kmsend", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`kmsend - Verified KakaoTalk message delivery

USAGE:
    kmsend <command> [options]

COMMANDS:
    serve               Run the local web page
    run -file <path>    Deliver to a recipient list (.xlsx or .csv)
    verify -name <n>    Capture the window, OCR it and print the verdict
    windows             List on-screen windows and the one that would be used
    history             Show stored runs and per-recipient outcomes
    doctor              Check tools, OCR engine, storage and configuration
    config <action>     init | show | validate | path
    version             Print the version
    help                Show this help message

Every command accepts -config <path>. Environment variables prefixed with
KMSEND_ override the file; a .env file in the working directory is read first.

WHILE A RUN IS ACTIVE:
    Do not touch the mouse or keyboard. The chat window must stay in front,
    and the clipboard is overwritten for every recipient.`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
