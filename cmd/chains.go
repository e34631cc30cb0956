package cmd

import (
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "List configured chains, routers and tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry, err := cfg.Registry()
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"Chain", "Name", "Router", "Native", "Tokens"})
		table.SetAutoWrapText(false)
		for _, c := range registry.Chains() {
			symbols := make([]string, 0, len(c.Tokens))
			for sym := range c.Tokens {
				symbols = append(symbols, sym+"("+strconv.Itoa(int(c.TokenDecimals(sym)))+")")
			}
			sort.Strings(symbols)
			table.Append([]string{
				strconv.FormatUint(c.ChainID, 10),
				c.Name,
				c.RouterAddress.Hex(),
				c.NativeTokenSymbol,
				strings.Join(symbols, " "),
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chainsCmd)
}
