package main

import (
    "fmt"
    "os"

    "github.com/spf13/cobra"

    relaycli "github.com/amirimatin/go-relay/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        fmt.Fprintln(os.Stderr, err)
        os.Exit(1)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "relayctl",
        Short:         "go-relay chat and file relay",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    relaycli.AddAll(root)
    return root
}
