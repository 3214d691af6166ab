package main

import (
	"flag"
	"fmt"
	"os"
)

const Version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, `wattx %s - UTXO privacy layer tools

Usage: wattx <command> [flags]

Commands:
  keygen       Generate a fresh stealth identity
  address      Decode and inspect a stealth address
  wallet       Show wallet address and balance
  kidb         Inspect a key image ledger
  txdecode     Decode a serialized privacy transaction

Run 'wattx <command> -h' for command flags.
`, Version)
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "keygen":
		err = cmdKeygen(flag.Args()[1:])
	case "address":
		err = cmdAddress(flag.Args()[1:])
	case "wallet":
		err = cmdWallet(flag.Args()[1:])
	case "kidb":
		err = cmdKeyImageDB(flag.Args()[1:])
	case "txdecode":
		err = cmdTxDecode(flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
