package verifier

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/solverify/verify-service/internal/api/model"
)

// Verifier runs one build verification to completion. Implementations may
// take arbitrarily long; callers own timeout enforcement via ctx. The caller
// must never run two verifications for the same job concurrently.
type Verifier interface {
	Verify(ctx context.Context, params model.BuildParams) (*model.VerifiedProgram, error)
}

// ErrHashesMissing is returned when the verifier tool exits successfully but
// its output does not contain both hashes.
var ErrHashesMissing = errors.New("verifier output missing program hashes")

// Config holds CLI verifier settings.
type Config struct {
	Command          string
	DefaultBaseImage string
	Timeout          time.Duration
}

// CLIVerifier shells out to a solana-verify style tool that builds the
// program from source and compares it against the deployed bytecode.
type CLIVerifier struct {
	command          string
	defaultBaseImage string
	timeout          time.Duration
	logger           *slog.Logger
}

func NewCLIVerifier(cfg *Config, logger *slog.Logger) *CLIVerifier {
	command := cfg.Command
	if command == "" {
		command = "solana-verify"
	}

	return &CLIVerifier{
		command:          command,
		defaultBaseImage: cfg.DefaultBaseImage,
		timeout:          cfg.Timeout,
		logger:           logger,
	}
}

// Verify builds the program from the requested repository state and extracts
// the executable and on-chain hashes from the tool output. The verdict is
// positive iff both hashes are present and equal.
func (v *CLIVerifier) Verify(ctx context.Context, params model.BuildParams) (*model.VerifiedProgram, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	args := v.buildArgs(params)

	v.logger.Info("Running build verification",
		slog.String("command", v.command),
		slog.String("program_id", params.ProgramID),
		slog.String("repository", params.Repository),
	)

	cmd := exec.CommandContext(ctx, v.command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		v.logger.Error("Build verification command failed",
			slog.String("program_id", params.ProgramID),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("stderr", lastLine(stderr.String())),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("verification command failed: %w", err)
	}

	onChainHash, executableHash := parseHashes(stdout.String())
	if onChainHash == "" || executableHash == "" {
		return nil, fmt.Errorf("%w: program %s", ErrHashesMissing, params.ProgramID)
	}

	verified := onChainHash == executableHash

	v.logger.Info("Build verification finished",
		slog.String("program_id", params.ProgramID),
		slog.Bool("verified", verified),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &model.VerifiedProgram{
		ProgramID:      params.ProgramID,
		IsVerified:     verified,
		OnChainHash:    onChainHash,
		ExecutableHash: executableHash,
		VerifiedAt:     time.Now().UTC(),
	}, nil
}

func (v *CLIVerifier) buildArgs(params model.BuildParams) []string {
	args := []string{"verify-from-repo", "--program-id", params.ProgramID, params.Repository}

	if params.CommitHash != "" {
		args = append(args, "--commit-hash", params.CommitHash)
	}
	if params.LibName != "" {
		args = append(args, "--library-name", params.LibName)
	}
	if params.BpfFlag {
		args = append(args, "--bpf")
	}

	baseImage := params.BaseImage
	if baseImage == "" {
		baseImage = v.defaultBaseImage
	}
	if baseImage != "" {
		args = append(args, "--base-image", baseImage)
	}
	if params.MountPath != "" {
		args = append(args, "--mount-path", params.MountPath)
	}
	if len(params.CargoArgs) > 0 {
		args = append(args, "--")
		args = append(args, params.CargoArgs...)
	}

	return args
}

// parseHashes scans tool output for the two hash lines. Missing lines leave
// the corresponding value empty.
func parseHashes(output string) (onChain, executable string) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if value, ok := strings.CutPrefix(line, "On-chain Program Hash:"); ok {
			onChain = strings.TrimSpace(value)
		}
		if value, ok := strings.CutPrefix(line, "Executable Program Hash:"); ok {
			executable = strings.TrimSpace(value)
		}
	}
	return onChain, executable
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
