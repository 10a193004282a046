package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/npfd/internal/brand"
	"grimm.is/npfd/internal/ctlplane"
	"grimm.is/npfd/internal/engine"
)

// ErrRulesetDiffers is returned by "ctl diff" when the running ruleset
// does not match the file.
var ErrRulesetDiffers = errors.New("ruleset differs")

const ctlUsage = `usage: %s ctl [-socket PATH] <command>

Commands:
  version            Print the control protocol version
  stats              Show rule counters
  save [FILE]        Write the running ruleset to FILE or stdout
  load FILE          Replace the running ruleset with FILE
  diff FILE          Compare FILE with the running ruleset
  switch on|off      Attach or detach the packet filter hooks
  table JSON|@FILE   Send a table request
  rule JSON|@FILE    Send a rule request
  ioctl OP [DATA|@FILE]
                     Send a raw request by opcode name
`

// RunCtl connects to the control socket and runs one ctl command.
func RunCtl(socket string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf(ctlUsage, brand.Name)
	}
	client, err := ctlplane.NewClient(socket)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", socket, err)
	}
	defer client.Close()
	return runCtl(client, args, os.Stdout)
}

func runCtl(c ctlplane.ControlClient, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf(ctlUsage, brand.Name)
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "version":
		v, err := c.Version()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d\n", v)
		return nil

	case "stats":
		st, err := c.Stats()
		if err != nil {
			return err
		}
		printStats(out, st)
		return nil

	case "save":
		data, err := c.Save()
		if err != nil {
			return err
		}
		if len(rest) > 0 {
			return os.WriteFile(rest[0], data, 0o600)
		}
		_, err = out.Write(append(data, '\n'))
		return err

	case "load":
		if len(rest) != 1 {
			return fmt.Errorf("usage: %s ctl load FILE", brand.Name)
		}
		data, err := os.ReadFile(rest[0])
		if err != nil {
			return err
		}
		if err := c.Load(data); err != nil {
			return err
		}
		Printer.Fprintf(out, "Ruleset loaded from %s\n", rest[0])
		return nil

	case "diff":
		if len(rest) != 1 {
			return fmt.Errorf("usage: %s ctl diff FILE", brand.Name)
		}
		return diffRuleset(c, rest[0], out)

	case "switch":
		if len(rest) != 1 {
			return fmt.Errorf("usage: %s ctl switch on|off", brand.Name)
		}
		var enable bool
		switch strings.ToLower(rest[0]) {
		case "on", "enable", "1":
			enable = true
		case "off", "disable", "0":
		default:
			return fmt.Errorf("invalid switch state %q", rest[0])
		}
		if err := c.Switch(enable); err != nil {
			return err
		}
		if enable {
			Printer.Fprintf(out, "Packet filter hooks attached\n")
		} else {
			Printer.Fprintf(out, "Packet filter hooks detached\n")
		}
		return nil

	case "table":
		var req engine.TableRequest
		if err := decodeArg(rest, &req); err != nil {
			return err
		}
		reply, err := c.Table(req)
		if err != nil {
			return err
		}
		return printJSON(out, reply)

	case "rule":
		var req engine.RuleRequest
		if err := decodeArg(rest, &req); err != nil {
			return err
		}
		reply, err := c.Rule(req)
		if err != nil {
			return err
		}
		return printJSON(out, reply)

	case "ioctl":
		return rawIoctl(c, rest, out)

	case "poll":
		return c.Poll()

	case "read":
		return c.Read()
	}
	return fmt.Errorf("unknown ctl command %q", cmd)
}

func rawIoctl(c ctlplane.ControlClient, args []string, out io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: %s ctl ioctl OP [DATA|@FILE]", brand.Name)
	}
	op, ok := ctlplane.ParseOpcode(args[0])
	if !ok {
		return fmt.Errorf("unknown opcode %q", args[0])
	}
	var payload []byte
	if len(args) == 2 {
		payload = []byte(args[1])
		if name, ok := strings.CutPrefix(args[1], "@"); ok {
			var err error
			if payload, err = os.ReadFile(name); err != nil {
				return err
			}
		}
	}
	reply, err := c.Ioctl(op, payload)
	if err != nil {
		return err
	}
	return printJSON(out, reply)
}

// decodeArg reads a JSON request from the single argument, or from a file
// when the argument starts with '@'.
func decodeArg(args []string, v any) error {
	if len(args) != 1 {
		return fmt.Errorf("expected one JSON argument")
	}
	data := []byte(args[0])
	if name, ok := strings.CutPrefix(args[0], "@"); ok {
		var err error
		if data, err = os.ReadFile(name); err != nil {
			return err
		}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

func printJSON(out io.Writer, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = out.Write(data)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}

func printStats(out io.Writer, st *engine.Stats) {
	Printer.Fprintf(out, "Default action: %s\n", st.DefaultAction)
	Printer.Fprintf(out, "Tables: %d\n", st.Tables)
	Printer.Fprintf(out, "Total: %d packets, %d bytes\n\n", st.Packets, st.Bytes)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	Printer.Fprintf(w, "RULE\tACTION\tPACKETS\tBYTES\n")
	for _, r := range st.Rules {
		Printer.Fprintf(w, "%s\t%s\t%d\t%d\n", r.Name, r.Action, r.Packets, r.Bytes)
	}
	w.Flush()
}

// canonicalRuleset re-encodes a ruleset document so formatting does not
// show up in diffs.
func canonicalRuleset(data []byte) (string, error) {
	var rs engine.Ruleset
	if err := json.Unmarshal(data, &rs); err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}

func diffRuleset(c ctlplane.ControlClient, file string, out io.Writer) error {
	local, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	want, err := canonicalRuleset(local)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", file, err)
	}

	running, err := c.Save()
	if err != nil {
		return err
	}
	have, err := canonicalRuleset(running)
	if err != nil {
		return fmt.Errorf("failed to parse running ruleset: %w", err)
	}

	if want == have {
		Printer.Fprintf(out, "No changes detected.\n")
		return nil
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(have),
		B:        difflib.SplitLines(want),
		FromFile: "running",
		ToFile:   file,
		Context:  3,
	})
	if err != nil {
		return err
	}
	fmt.Fprint(out, text)
	return ErrRulesetDiffers
}
