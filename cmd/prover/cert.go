package main

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/kroma-network/kroma-exploit-prover/internal/proof"
)

// isDER reports whether raw starts like a DER SEQUENCE with a long form length.
func isDER(raw []byte) bool {
	return len(raw) > 1 && raw[0] == 0x30 && raw[1] >= 0x81 && raw[1] <= 0x83
}

// readCertificate accepts a DER or PEM encoded certificate and returns its DER bytes.
func readCertificate(raw []byte) (*x509.Certificate, []byte, error) {
	der := raw
	if !isDER(raw) {
		block, _ := pem.Decode(raw)
		if block == nil {
			return nil, nil, errors.New("certificate is neither DER nor PEM")
		}
		if block.Type != "CERTIFICATE" {
			return nil, nil, errors.Errorf("unexpected PEM block %q", block.Type)
		}
		der = block.Bytes
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to parse certificate")
	}
	return cert, der, nil
}

// checkDomain logs whether the proven journal commits the domain of the local run.
func checkDomain(domain, journal []byte, image proof.ImageID) bool {
	if !bytes.Equal(domain, journal) {
		log.Error("Output mismatch!", "image", image, "executed", string(domain), "proven", string(journal))
		return false
	}
	log.Info("Receipt validated!", "image", image, "domain", string(domain))
	return true
}

func certCommand(ctx *cli.Context) error {
	runCtx, cancel := interruptContext()
	defer cancel()
	raw, err := os.ReadFile(ctx.String(CertFile.Name))
	if err != nil {
		return errors.Wrap(err, "failed to read certificate")
	}
	cert, der, err := readCertificate(raw)
	if err != nil {
		return err
	}
	program, err := proof.NewExecProgram(ctx.String(ProverPath.Name), ctx.String(CertGuestPath.Name))
	if err != nil {
		return err
	}
	input := proof.EncodeInput(der)
	domain, err := program.Execute(runCtx, input)
	if err != nil {
		return err
	}
	log.Info("certificate executed", "domain", string(domain), "subject", cert.Subject.CommonName, "image", program.ImageID())
	if !ctx.Bool(Prove.Name) {
		fmt.Println(string(domain))
		return nil
	}

	remote, err := newRemote(ctx)
	if err != nil {
		return err
	}
	if remote == nil {
		return errors.Errorf("proving needs --%s or --%s", RemoteUrl.Name, AwsProverInstanceId.Name)
	}
	service := proof.NewService(program, remote, remote, nil, proof.Config{Snark: true, SealVerifier: program})
	defer service.Close()
	result, err := service.ProveInput(runCtx, input, nil)
	if err != nil {
		return err
	}
	checkDomain(domain, result.Artifact.Receipt.Journal, program.ImageID())
	onchain, err := proof.EncodeOnchain(&result.Artifact.Receipt)
	if err != nil {
		return err
	}
	fmt.Println(hexutil.Encode(onchain))
	return nil
}
