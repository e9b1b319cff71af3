package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/urfave/cli/v3"

	"github.com/stakemesh/harvester/internal/lib/misc"
)

func GetSetupCmdOpts() *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Interactively generate an env file with stashes, signer and claim settings",
		Action: SetupEnvFile,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "out",
				Usage: "File to write the generated settings to",
				Value: ".env.local",
			},
		},
	}
}

// SetupEnvFile walks the operator through the minimum viable configuration
// and writes it as a dotenv file the Before hook will pick up on next run.
func SetupEnvFile(ctx context.Context, cmd *cli.Command) error {
	outFile := cmd.String("out")
	if _, err := os.Stat(outFile); err == nil {
		if _, err := yesNo(fmt.Sprintf("%s already exists, overwrite", outFile)); err != nil {
			return errors.New("aborted")
		}
	}

	stashes, err := getStashList("Stash addresses to claim for (comma separated)")
	if err != nil {
		return err
	}
	signer, err := getAccount("Signer address (seed must be set via HARVESTER_SEED)", "")
	if err != nil {
		return err
	}
	maxPayouts, err := getInt("Maximum eras to claim per stash per cycle", 4, 1, 64)
	if err != nil {
		return err
	}
	maxHistory, err := getInt("Maximum eras to look back", 84, 1, 512)
	if err != nil {
		return err
	}
	maxCalls, err := getInt("Maximum calls per batch", 8, 1, 64)
	if err != nil {
		return err
	}

	var lines []string
	lines = append(lines,
		fmt.Sprintf("HARVESTER_NETWORK=%s", cmd.String("network")),
		fmt.Sprintf("HARVESTER_STASHES=%s", strings.Join(stashes, ",")),
		fmt.Sprintf("HARVESTER_SIGNER=%s", signer),
		fmt.Sprintf("HARVESTER_MAX_PAYOUTS=%d", maxPayouts),
		fmt.Sprintf("HARVESTER_MAX_HISTORY_ERAS=%d", maxHistory),
		fmt.Sprintf("HARVESTER_MAX_CALLS=%d", maxCalls),
		"# Set the hex-encoded signer seed here or export it separately",
		"#HARVESTER_SEED=",
	)
	if err := os.WriteFile(outFile, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		return err
	}
	misc.Infof(App.logger, "wrote %s - review it and set HARVESTER_SEED before running", outFile)
	return nil
}

func getStashList(prompt string) ([]string, error) {
	result, err := (&promptui.Prompt{
		Label: prompt,
		Validate: func(input string) error {
			for _, s := range strings.Split(input, ",") {
				if err := validAddress(strings.TrimSpace(s)); err != nil {
					return err
				}
			}
			return nil
		},
	}).Run()
	if err != nil {
		return nil, err
	}
	var stashes []string
	for _, s := range strings.Split(result, ",") {
		stashes = append(stashes, strings.TrimSpace(s))
	}
	return stashes, nil
}

func getAccount(prompt string, defVal string) (string, error) {
	return (&promptui.Prompt{
		Label:    prompt,
		Default:  defVal,
		Validate: validAddress,
	}).Run()
}

func getInt(prompt string, defVal int, minVal int, maxVal int) (int, error) {
	validate := func(input string) error {
		value, err := strconv.Atoi(input)
		if err != nil {
			return err
		}
		if value < minVal || value > maxVal {
			return fmt.Errorf("value must be between %d and %d", minVal, maxVal)
		}
		return nil
	}
	result, err := (&promptui.Prompt{
		Label:    prompt,
		Default:  strconv.Itoa(defVal),
		Validate: validate,
	}).Run()
	if err != nil {
		return 0, err
	}
	value, _ := strconv.Atoi(result)
	return value, nil
}

func yesNo(prompt string) (string, error) {
	return (&promptui.Prompt{
		Label:     prompt,
		IsConfirm: true,
	}).Run()
}

func validAddress(s string) error {
	if s == "" {
		return errors.New("address required")
	}
	if strings.ContainsAny(s, " \t") {
		return errors.New("address must not contain whitespace")
	}
	return nil
}
