package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kabili207/whisper-go/core/addr"
	"github.com/kabili207/whisper-go/core/auth"
	"github.com/kabili207/whisper-go/core/codec"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Read the root's status resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			msg, err := client.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func spoofDioCmd() *cobra.Command {
	var target, parent string
	var rank uint16

	cmd := &cobra.Command{
		Use:   "spoof-dio",
		Short: "Make the root forge a DIO for a target node",
		Long: "spoof-dio asks the root to advertise that --target has --parent as its " +
			"preferred parent at --rank. Addresses are two-byte suffixes such as 00:05.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := addr.ParseSuffix(target)
			if err != nil {
				return fmt.Errorf("--target: %w", err)
			}
			p, err := addr.ParseSuffix(parent)
			if err != nil {
				return fmt.Errorf("--parent: %w", err)
			}

			payload := codec.EncodeSpoofDio(codec.SpoofDio{TargetSuffix: t, ParentSuffix: p, Rank: rank})
			return put(cmd, payload)
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "target address suffix (required)")
	cmd.Flags().StringVar(&parent, "parent", "", "parent address suffix (required)")
	cmd.Flags().Uint16Var(&rank, "rank", 0, "advertised rank")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("parent")

	return cmd
}

func reserveCellCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "reserve-cell",
		Short: "Make the root request a TX cell with a neighbor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := addr.ParseSuffix(target)
			if err != nil {
				return fmt.Errorf("--target: %w", err)
			}
			return put(cmd, codec.EncodeReserveCell(codec.ReserveCell{TargetSuffix: t}))
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "neighbor address suffix (required)")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 key pair for request signing",
		Args:  cobra.NoArgs,
		// No connection needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			kp, err := auth.GenerateKeyPair()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "private_key: %s\npublic_key:  %s\n", kp.PrivateKeyHex(), kp.PublicKeyHex())
			return nil
		},
	}
}

func put(cmd *cobra.Command, payload []byte) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	resp, err := client.Do(ctx, codec.MethodPut, payload)
	if err != nil {
		return err
	}
	if !resp.Status.Success() {
		return fmt.Errorf("root answered %s", resp.Status)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Status)
	return nil
}
