package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/thatsimonsguy/trv-controller/db"
	"github.com/thatsimonsguy/trv-controller/internal/fht8v"
	"github.com/thatsimonsguy/trv-controller/internal/frame"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dbPath, command, idHex, keyHex, frameHex string
	var hc1, hc2, target int
	flag.StringVar(&dbPath, "db", "data/trv.db", "Path to the SQLite database file")
	flag.StringVar(&command, "cmd", "", "Command to run: set-housecode, set-target, put-association, show-counters, decode-frame, decode-fs20")
	flag.IntVar(&hc1, "hc1", 0, "First house code byte (0-99)")
	flag.IntVar(&hc2, "hc2", 0, "Second house code byte (0-99)")
	flag.IntVar(&target, "target", 0, "Target percent open (0-100)")
	flag.StringVar(&idHex, "id", "", "8-byte node ID, hex")
	flag.StringVar(&keyHex, "key", "", "16-byte key, hex")
	flag.StringVar(&frameHex, "frame", "", "Raw frame bytes, hex")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of trv-debug:")
		fmt.Println("  -db string\tPath to the SQLite database file (default 'data/trv.db')")
		fmt.Println("  -cmd string\tCommand to run: set-housecode, set-target, put-association, show-counters, decode-frame, decode-fs20")
		fmt.Println("  -hc1 int\tFirst house code byte (0-99)")
		fmt.Println("  -hc2 int\tSecond house code byte (0-99)")
		fmt.Println("  -target int\tTarget percent open (0-100)")
		fmt.Println("  -id string\t8-byte node ID, hex")
		fmt.Println("  -key string\t16-byte key, hex")
		fmt.Println("  -frame string\tRaw frame bytes, hex")
		fmt.Println("  -help\tShow this help message")
		os.Exit(0)
	}

	var err error
	switch command {
	case "set-housecode":
		if hc1 < 0 || hc1 > 99 || hc2 < 0 || hc2 > 99 {
			fmt.Println("Error: house code bytes must be between 0 and 99")
			os.Exit(1)
		}
		err = db.SetHouseCodeCLI(dbPath, uint8(hc1), uint8(hc2))
	case "set-target":
		if target < 0 || target > 100 {
			fmt.Println("Error: target must be between 0 and 100")
			os.Exit(1)
		}
		err = db.SetTargetPercentCLI(dbPath, uint8(target))
	case "put-association":
		var id [8]byte
		var key [16]byte
		if err = parseHexInto(idHex, id[:]); err != nil {
			fmt.Printf("Error: bad node ID: %v\n", err)
			os.Exit(1)
		}
		if err = parseHexInto(keyHex, key[:]); err != nil {
			fmt.Printf("Error: bad key: %v\n", err)
			os.Exit(1)
		}
		err = db.PutAssociationCLI(dbPath, id, key)
	case "show-counters":
		err = showCounters(dbPath)
	case "decode-frame":
		err = decodeFrame(frameHex)
	case "decode-fs20":
		err = decodeFS20(frameHex)
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
	fmt.Printf("Command %s completed successfully\n", command)
}

func parseHexInto(s string, out []byte) error {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	if len(raw) != len(out) {
		return fmt.Errorf("want %d bytes, got %d", len(out), len(raw))
	}
	copy(out, raw)
	return nil
}

func showCounters(dbPath string) error {
	dbConn, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	slots, err := db.GetCounterSlots(dbConn)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		fmt.Println("No counter slots written yet")
		return nil
	}
	for slot, data := range slots {
		fmt.Printf("  %-24s %s\n", slot, hex.EncodeToString(data))
	}
	return nil
}

// decodeFrame walks a raw secureable-frame header and prints its
// fields, plus the CRC check result for non-secure frames.
func decodeFrame(frameHex string) error {
	raw, err := hex.DecodeString(strings.TrimSpace(frameHex))
	if err != nil {
		return fmt.Errorf("frame is not valid hex: %w", err)
	}

	var h frame.Header
	if h.Decode(raw) == 0 {
		return fmt.Errorf("header does not decode as a valid frame")
	}

	fmt.Printf("  frame length: %d (+1 length byte)\n", h.FrameLen)
	fmt.Printf("  type:         0x%02x (%q) secure=%v\n", h.FType&^frame.SecureFlag, rune(h.FType&^frame.SecureFlag), h.IsSecure())
	fmt.Printf("  seq:          %d\n", h.Seq())
	fmt.Printf("  id (%d bytes): %s\n", h.IDLen(), hex.EncodeToString(h.ID[:h.IDLen()]))
	fmt.Printf("  body length:  %d\n", h.BodyLen)
	fmt.Printf("  trailer:      %d bytes at offset %d\n", h.TrailerLen(), h.TrailerOffset())

	if h.IsSecure() {
		fmt.Println("  secure frame: body is encrypted, trailer carries counter and tag")
		return nil
	}
	if frame.DecodeNonSecure(&h, raw) == 0 {
		return fmt.Errorf("non-secure CRC check failed")
	}
	body := raw[h.BodyOffset() : h.BodyOffset()+h.BodyLen]
	fmt.Printf("  body:         %s\n", hex.EncodeToString(body))
	fmt.Println("  CRC OK")
	return nil
}

// decodeFS20 walks an FHT8V bit stream and prints each command frame.
func decodeFS20(streamHex string) error {
	stream, err := hex.DecodeString(strings.TrimSpace(streamHex))
	if err != nil {
		return fmt.Errorf("stream is not valid hex: %w", err)
	}

	for n := 1; len(stream) > 0; n++ {
		msg, consumed := fht8v.DecodeBitStream(stream)
		if msg == nil {
			return fmt.Errorf("frame %d does not decode at offset", n)
		}
		fmt.Printf("  frame %d: hc1=%d hc2=%d address=%d command=0x%02x extension=%d",
			n, msg.HC1, msg.HC2, msg.Address, msg.Command, msg.Extension)
		if msg.Command == fht8v.CmdValveSet {
			fmt.Printf(" (valve set, %d%%)", fht8v.Scale255ToPercent(msg.Extension))
		}
		fmt.Println()
		stream = stream[consumed:]
		if len(stream) > 0 && stream[0] == 0xff {
			break
		}
	}
	return nil
}
