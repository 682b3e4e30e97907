package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// Sentinel errors for CLI validation.
var (
	errNameRequired    = errors.New("profile name argument is required")
	errProfileNotFound = errors.New("profile not found")
)

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage traffic profiles",
	}

	cmd.AddCommand(profileListCmd())
	cmd.AddCommand(profileShowCmd())
	cmd.AddCommand(profileCreateCmd())
	cmd.AddCommand(profileUpdateCmd())
	cmd.AddCommand(profileDeleteCmd())
	cmd.AddCommand(profileEnableCmd())
	cmd.AddCommand(profileDisableCmd())

	return cmd
}

// profilePath builds the escaped API path for one profile.
func profilePath(name, suffix string) string {
	return "/api/traffic-profiles/" + url.PathEscape(name) + suffix
}

// fetchProfiles retrieves the full profile list from the daemon.
func fetchProfiles(ctx context.Context) ([]profileView, error) {
	var resp struct {
		Profiles []profileView `json:"profiles"`
	}
	if err := client.get(ctx, "/api/traffic-profiles", &resp); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	return resp.Profiles, nil
}

// --- profile list ---

func profileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all traffic profiles",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			profiles, err := fetchProfiles(context.Background())
			if err != nil {
				return err
			}

			out, err := formatProfiles(profiles, outputFormat)
			if err != nil {
				return fmt.Errorf("format profiles: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- profile show ---

func profileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show details of a traffic profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			profiles, err := fetchProfiles(context.Background())
			if err != nil {
				return err
			}

			for _, p := range profiles {
				if p.Name != args[0] {
					continue
				}

				out, err := formatProfileDetail(p, outputFormat)
				if err != nil {
					return fmt.Errorf("format profile: %w", err)
				}

				fmt.Print(out)

				return nil
			}

			return fmt.Errorf("%w: %q", errProfileNotFound, args[0])
		},
	}
}

// --- profile create / update ---

// profileFlags collects the flag set shared by create and update.
type profileFlags struct {
	srcPort   string
	dstPort   string
	dstIP     string
	protocol  string
	l4Port    uint16
	vni       uint32
	mplsLabel uint32
	outerVLAN uint16
	innerVLAN uint16
	bandwidth float64
	frameSize int
	dscp      uint8
	enabled   bool
	preset    string

	latencyMs float64
	jitterMs  float64
	loss      float64
	burstLoss float64
	reorder   float64
	duplicate float64
	capMbps   float64
}

func (f *profileFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.srcPort, "src-port", "", "transmit port name (required on create)")
	flags.StringVar(&f.dstPort, "dst-port", "", "logical destination port name")
	flags.StringVar(&f.dstIP, "dst-ip", "", "destination IP address (required on create)")
	flags.StringVar(&f.protocol, "protocol", "ipv4", "payload protocol: ipv4, ipv6, vlan, qinq, mpls, vxlan, udp-flood, tcp-syn-flood, http-flood, dns-amp")
	flags.Uint16Var(&f.l4Port, "l4-port", 0, "destination L4 port for UDP/TCP payloads")
	flags.Uint32Var(&f.vni, "vni", 0, "VXLAN network identifier")
	flags.Uint32Var(&f.mplsLabel, "mpls-label", 0, "MPLS label value")
	flags.Uint16Var(&f.outerVLAN, "outer-vlan", 0, "outer 802.1Q VLAN ID")
	flags.Uint16Var(&f.innerVLAN, "inner-vlan", 0, "inner 802.1Q VLAN ID (QinQ)")
	flags.Float64Var(&f.bandwidth, "bandwidth", 10, "target rate in Mbps")
	flags.IntVar(&f.frameSize, "frame-size", 512, "frame size in bytes")
	flags.Uint8Var(&f.dscp, "dscp", 0, "DSCP code point (0-63)")
	flags.BoolVar(&f.enabled, "enabled", false, "start the profile on daemon boot")
	flags.StringVar(&f.preset, "preset", "", "impairment preset name (overrides impairment flags)")

	flags.Float64Var(&f.latencyMs, "latency", 0, "fixed one-way delay in ms")
	flags.Float64Var(&f.jitterMs, "jitter", 0, "jitter amplitude in ms")
	flags.Float64Var(&f.loss, "loss", 0, "random loss percentage")
	flags.Float64Var(&f.burstLoss, "burst-loss", 0, "burst loss percentage")
	flags.Float64Var(&f.reorder, "reorder", 0, "reorder percentage")
	flags.Float64Var(&f.duplicate, "duplicate", 0, "duplication percentage")
	flags.Float64Var(&f.capMbps, "shaping-cap", 0, "bandwidth cap in Mbps (0 disables)")
}

// body builds the request payload. Only flags the user changed are
// included, so PUT bodies stay partial and the daemon merges them over
// the stored descriptor.
func (f *profileFlags) body(cmd *cobra.Command) map[string]any {
	out := make(map[string]any)

	set := func(flag, key string, val any) {
		if cmd.Flags().Changed(flag) {
			out[key] = val
		}
	}

	set("src-port", "src_port", f.srcPort)
	set("dst-port", "dst_port", f.dstPort)
	set("dst-ip", "dst_ip", f.dstIP)
	set("protocol", "protocol", f.protocol)
	set("l4-port", "l4_port", f.l4Port)
	set("vni", "vni", f.vni)
	set("mpls-label", "mpls_label", f.mplsLabel)
	set("outer-vlan", "outer_vlan", f.outerVLAN)
	set("inner-vlan", "inner_vlan", f.innerVLAN)
	set("bandwidth", "bandwidth_mbps", f.bandwidth)
	set("frame-size", "frame_size", f.frameSize)
	set("dscp", "dscp", f.dscp)
	set("enabled", "enabled", f.enabled)
	set("preset", "impairment_preset", f.preset)

	im := make(map[string]any)
	setIm := func(flag, key string, val float64) {
		if cmd.Flags().Changed(flag) {
			im[key] = val
		}
	}

	setIm("latency", "latency_ms", f.latencyMs)
	setIm("jitter", "jitter_ms", f.jitterMs)
	setIm("loss", "loss_percent", f.loss)
	setIm("burst-loss", "burst_loss_percent", f.burstLoss)
	setIm("reorder", "reorder_percent", f.reorder)
	setIm("duplicate", "duplicate_percent", f.duplicate)
	setIm("shaping-cap", "shaping_cap_mbps", f.capMbps)

	if len(im) > 0 {
		out["impairments"] = im
	}

	return out
}

func profileCreateCmd() *cobra.Command {
	var f profileFlags

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new traffic profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "" {
				return errNameRequired
			}

			body := f.body(cmd)
			body["name"] = args[0]

			var resp struct {
				Name     string   `json:"name"`
				Warnings []string `json:"warnings"`
			}
			if err := client.post(context.Background(), "/api/traffic-profiles", body, &resp); err != nil {
				return fmt.Errorf("create profile: %w", err)
			}

			fmt.Printf("Profile %q created.\n", resp.Name)
			for _, warning := range resp.Warnings {
				fmt.Printf("Warning: %s\n", warning)
			}

			return nil
		},
	}

	f.register(cmd)

	return cmd
}

func profileUpdateCmd() *cobra.Command {
	var f profileFlags

	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Update a traffic profile (only the given flags change)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Profile profileView `json:"profile"`
				State   string      `json:"state"`
			}

			err := client.put(context.Background(), profilePath(args[0], ""), f.body(cmd), &resp)
			if err != nil {
				return fmt.Errorf("update profile: %w", err)
			}

			fmt.Printf("Profile %q updated (state %s).\n", args[0], resp.State)

			return nil
		},
	}

	f.register(cmd)

	return cmd
}

// --- profile delete / enable / disable ---

func profileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a traffic profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := client.delete(context.Background(), profilePath(args[0], ""), nil); err != nil {
				return fmt.Errorf("delete profile: %w", err)
			}

			fmt.Printf("Profile %q deleted.\n", args[0])

			return nil
		},
	}
}

func profileEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <name>",
		Short: "Start sending a traffic profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := client.post(context.Background(), profilePath(args[0], "/enable"), nil, nil); err != nil {
				return fmt.Errorf("enable profile: %w", err)
			}

			fmt.Printf("Profile %q enabled.\n", args[0])

			return nil
		},
	}
}

func profileDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <name>",
		Short: "Stop sending a traffic profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := client.post(context.Background(), profilePath(args[0], "/disable"), nil, nil); err != nil {
				return fmt.Errorf("disable profile: %w", err)
			}

			fmt.Printf("Profile %q disabled.\n", args[0])

			return nil
		},
	}
}
