package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ruteri/guardian-recovery/api"
	"github.com/ruteri/guardian-recovery/api/recoveryhandler"
	"github.com/ruteri/guardian-recovery/envelope"
	"github.com/ruteri/guardian-recovery/interfaces"
	"github.com/ruteri/guardian-recovery/recovery"
	"github.com/ruteri/guardian-recovery/verifier"
	"github.com/urfave/cli/v2"
)

var flagServer = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "recovery API address",
	EnvVars: []string{"RECOVERY_SERVER"},
}

var flagKeyFile = &cli.StringFlag{
	Name:  "key-file",
	Value: "guardian-key.json",
	Usage: "path to the guardian key file",
}

var flagPassphraseEnv = &cli.StringFlag{
	Name:  "passphrase-env",
	Value: "GUARDIAN_PASSPHRASE",
	Usage: "environment variable holding the key file passphrase",
}

var flagGuardianID = &cli.StringFlag{
	Name:     "guardian-id",
	Required: true,
}

var flagRecoveryID = &cli.StringFlag{
	Name:     "recovery-id",
	Required: true,
}

var flagEnvelopeFile = &cli.StringFlag{
	Name:  "envelope-file",
	Usage: "guardian envelope JSON; the share is decrypted locally and sent with the approval",
}

var flagOperatorID = &cli.StringFlag{
	Name:     "operator-id",
	Required: true,
}

var flagOperatorPrivkey = &cli.StringFlag{
	Name:  "operator-privkey-file",
	Value: "operator-private.pem",
	Usage: "path to operator private key",
}

var flagOperatorPubkey = &cli.StringFlag{
	Name:  "operator-pubkey-file",
	Value: "operator-public.pem",
	Usage: "path to operator public key",
}

var flagUserID = &cli.StringFlag{
	Name:     "user-id",
	Required: true,
}

var flagDeviceID = &cli.StringFlag{
	Name:     "device-id",
	Required: true,
}

func main() {
	app := &cli.App{
		Name:  "guardianctl",
		Usage: "Guardian and operator client for the recovery API",
		Commands: []*cli.Command{
			{
				Name:  "keygen",
				Usage: "Generate a passphrase protected guardian key file",
				Flags: []cli.Flag{flagGuardianID, flagKeyFile, flagPassphraseEnv},
				Action: func(cCtx *cli.Context) error {
					passphrase, err := passphraseFrom(cCtx)
					if err != nil {
						return err
					}
					kf, err := generateKeyFile(cCtx.String(flagGuardianID.Name), passphrase)
					if err != nil {
						return err
					}
					if err := writeKeyFile(cCtx.String(flagKeyFile.Name), kf); err != nil {
						return err
					}

					signingKey, err := json.Marshal(kf.signingKeyConfig())
					if err != nil {
						return err
					}
					fmt.Printf("Key file written to %s\n", cCtx.String(flagKeyFile.Name))
					fmt.Printf("Encryption public key: %s\n", encodeB64(kf.EncryptionPublicKey))
					fmt.Printf("DNS TXT record: %s\n", kf.dnsRecord())
					fmt.Printf("Signing key entry: %s\n", signingKey)
					return nil
				},
			},
			{
				Name:  "status",
				Usage: "Show a recovery session",
				Flags: []cli.Flag{flagServer, flagRecoveryID},
				Action: func(cCtx *cli.Context) error {
					client := &recoveryhandler.Client{BaseURL: cCtx.String(flagServer.Name)}
					session, err := client.GetSession(cCtx.Context, cCtx.String(flagRecoveryID.Name))
					if err != nil {
						return err
					}
					return printJSON(session)
				},
			},
			{
				Name:  "approve",
				Usage: "Sign and submit an approval for a recovery session",
				Flags: []cli.Flag{flagServer, flagRecoveryID, flagKeyFile, flagPassphraseEnv, flagEnvelopeFile},
				Action: func(cCtx *cli.Context) error {
					passphrase, err := passphraseFrom(cCtx)
					if err != nil {
						return err
					}
					kf, err := readKeyFile(cCtx.String(flagKeyFile.Name))
					if err != nil {
						return err
					}
					keys, err := kf.unlock(passphrase)
					if err != nil {
						return err
					}
					defer keys.Wipe()

					client := &recoveryhandler.Client{BaseURL: cCtx.String(flagServer.Name)}
					result, err := approve(cCtx.Context, client, keys, cCtx.String(flagRecoveryID.Name), cCtx.String(flagEnvelopeFile.Name))
					if err != nil {
						return err
					}
					return printJSON(result)
				},
			},
			{
				Name:  "operator",
				Usage: "Signed management calls",
				Subcommands: []*cli.Command{
					{
						Name:  "keygen",
						Usage: "Generate an operator key pair",
						Flags: []cli.Flag{flagOperatorPrivkey, flagOperatorPubkey},
						Action: func(cCtx *cli.Context) error {
							privateKeyPEM, publicKeyPEM, err := recoveryhandler.GenerateOperatorKeyPair()
							if err != nil {
								return err
							}
							if err := os.WriteFile(cCtx.String(flagOperatorPrivkey.Name), []byte(privateKeyPEM), 0o600); err != nil {
								return fmt.Errorf("failed to write private key: %w", err)
							}
							if err := os.WriteFile(cCtx.String(flagOperatorPubkey.Name), []byte(publicKeyPEM), 0o644); err != nil {
								return fmt.Errorf("failed to write public key: %w", err)
							}
							fmt.Println(publicKeyPEM)
							return nil
						},
					},
					{
						Name:  "audit",
						Flags: []cli.Flag{flagServer, flagOperatorID, flagOperatorPrivkey, flagUserID},
						Action: func(cCtx *cli.Context) error {
							client, err := operatorClient(cCtx)
							if err != nil {
								return err
							}
							report, err := client.Audit(cCtx.Context, cCtx.String(flagUserID.Name))
							if err != nil {
								return err
							}
							return printJSON(report)
						},
					},
					{
						Name:  "initiate",
						Flags: []cli.Flag{flagServer, flagOperatorID, flagOperatorPrivkey, flagUserID, flagDeviceID},
						Action: func(cCtx *cli.Context) error {
							client, err := operatorClient(cCtx)
							if err != nil {
								return err
							}
							result, err := client.Initiate(cCtx.Context, cCtx.String(flagUserID.Name), cCtx.String(flagDeviceID.Name))
							var statusErr *recoveryhandler.StatusError
							if errors.As(err, &statusErr) && statusErr.RecoveryID != "" {
								return fmt.Errorf("%w (live session %s)", err, statusErr.RecoveryID)
							}
							if err != nil {
								return err
							}
							return printJSON(result)
						},
					},
					{
						Name:  "claim",
						Flags: []cli.Flag{flagServer, flagOperatorID, flagOperatorPrivkey, flagRecoveryID, flagDeviceID},
						Action: func(cCtx *cli.Context) error {
							client, err := operatorClient(cCtx)
							if err != nil {
								return err
							}
							key, err := client.Claim(cCtx.Context, cCtx.String(flagRecoveryID.Name), cCtx.String(flagDeviceID.Name))
							if err != nil {
								return err
							}
							fmt.Println(encodeB64(key))
							return nil
						},
					},
					{
						Name:  "cancel",
						Flags: []cli.Flag{flagServer, flagOperatorID, flagOperatorPrivkey, flagRecoveryID, flagDeviceID},
						Action: func(cCtx *cli.Context) error {
							client, err := operatorClient(cCtx)
							if err != nil {
								return err
							}
							session, err := client.Cancel(cCtx.Context, cCtx.String(flagRecoveryID.Name), cCtx.String(flagDeviceID.Name))
							if err != nil {
								return err
							}
							return printJSON(session)
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// approve signs the session as stored on the server. With an envelope file the
// decrypted share travels with the approval.
func approve(ctx context.Context, client *recoveryhandler.Client, keys *guardianKeys, recoveryID, envelopeFile string) (recovery.ApprovalResult, error) {
	session, err := client.GetSession(ctx, recoveryID)
	if err != nil {
		return recovery.ApprovalResult{}, fmt.Errorf("failed to fetch session: %w", err)
	}
	if session.Status != interfaces.StatusPendingApproval {
		return recovery.ApprovalResult{}, fmt.Errorf("session is %s", session.Status)
	}

	req := api.ApprovalRequest{
		GuardianID: keys.GuardianID,
		Signature:  verifier.SignEd25519(keys.SigningKey, session, keys.GuardianID),
	}

	if envelopeFile != "" {
		payload, err := sharePayload(keys, envelopeFile, session.UserID)
		if err != nil {
			return recovery.ApprovalResult{}, err
		}
		req.SharePayload = payload
	}

	return client.Approve(ctx, recoveryID, req)
}

func sharePayload(keys *guardianKeys, envelopeFile string, userID interfaces.UserID) ([]byte, error) {
	data, err := os.ReadFile(envelopeFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read envelope: %w", err)
	}
	var env interfaces.EncryptedShareEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if env.UserID != userID {
		return nil, fmt.Errorf("envelope belongs to %s, session is for %s", env.UserID, userID)
	}
	if env.DestinationID != keys.GuardianID {
		return nil, fmt.Errorf("envelope is addressed to %s", env.DestinationID)
	}

	share, err := envelope.OpenGuardianEnvelope(keys.EncryptionKey, env)
	if err != nil {
		return nil, err
	}
	return envelope.EncodePayload(share)
}

func operatorClient(cCtx *cli.Context) (*recoveryhandler.Client, error) {
	keyPEM, err := os.ReadFile(cCtx.String(flagOperatorPrivkey.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to read operator key: %w", err)
	}
	key, err := recoveryhandler.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	return &recoveryhandler.Client{
		BaseURL:     cCtx.String(flagServer.Name),
		OperatorID:  cCtx.String(flagOperatorID.Name),
		OperatorKey: key,
	}, nil
}

func passphraseFrom(cCtx *cli.Context) ([]byte, error) {
	name := cCtx.String(flagPassphraseEnv.Name)
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return nil, fmt.Errorf("passphrase not set, export %s", name)
	}
	return []byte(value), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func encodeB64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
