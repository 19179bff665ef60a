// Package main implements dlogctl, the administrative CLI for dlog
// namespaces: provisioning the namespace binding and creating, deleting,
// and listing logs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/c360/dlog/config"
	"github.com/c360/dlog/metaclient"
	"github.com/c360/dlog/namespace"
)

const appName = "dlogctl"

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [flags]

Commands:
  seed-binding   write the namespace binding node
  create         create a log
  delete         delete a log
  exists         check whether a log exists
  list           list the logs in the namespace
  enumerate      list logs with their raw metadata bytes

Common flags:
  -uri      namespace location, e.g. dlog://host:4222/apps/logs (required)
  -config   optional YAML configuration file
`, appName)
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("missing command")
	}
	cmd, args := args[0], args[1:]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	uriFlag := fs.String("uri", "", "namespace location")
	confFlag := fs.String("config", "", "YAML configuration file")
	nameFlag := fs.String("name", "", "log name")
	storageFlag := fs.String("storage", "", "comma-separated storage ensemble addresses (seed-binding)")
	federatedFlag := fs.Bool("federated", false, "mark the namespace federated (seed-binding)")
	aclRootFlag := fs.String("acl-root", "", "reserved ACL root name (seed-binding)")
	timeoutFlag := fs.Duration("timeout", 30*time.Second, "operation timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *uriFlag == "" {
		usage()
		return fmt.Errorf("-uri is required")
	}
	uri, err := url.Parse(*uriFlag)
	if err != nil {
		return fmt.Errorf("parse uri: %w", err)
	}
	if err := namespace.ValidateURI(uri); err != nil {
		return err
	}

	conf := config.Default()
	if *confFlag != "" {
		conf, err = config.LoadFile(*confFlag)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	switch cmd {
	case "seed-binding":
		return seedBinding(ctx, &conf, uri, *storageFlag, *aclRootFlag, *federatedFlag)
	case "create", "delete", "exists":
		if *nameFlag == "" {
			return fmt.Errorf("-name is required for %s", cmd)
		}
		return withNamespace(ctx, &conf, uri, func(n *namespace.Namespace) error {
			switch cmd {
			case "create":
				if err := n.CreateLog(ctx, *nameFlag); err != nil {
					return err
				}
				fmt.Printf("created %s\n", *nameFlag)
			case "delete":
				if err := n.DeleteLog(ctx, *nameFlag); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", *nameFlag)
			case "exists":
				exists, err := n.LogExists(ctx, *nameFlag)
				if err != nil {
					return err
				}
				fmt.Printf("%s exists=%v\n", *nameFlag, exists)
			}
			return nil
		})
	case "list":
		return withNamespace(ctx, &conf, uri, func(n *namespace.Namespace) error {
			logs, err := n.GetLogs(ctx)
			if err != nil {
				return err
			}
			for _, l := range logs {
				fmt.Println(l)
			}
			return nil
		})
	case "enumerate":
		result, err := namespace.EnumerateLogsWithMetadata(ctx, &conf, uri, nil)
		if err != nil {
			return err
		}
		for name, raw := range result {
			fmt.Printf("%s\t%d bytes\n", name, len(raw))
		}
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// seedBinding writes the binding node through a short-lived metadata
// connection built from the location's ensemble.
func seedBinding(ctx context.Context, conf *config.NamespaceConfig, uri *url.URL, storage, aclRoot string, federated bool) error {
	if storage == "" {
		return fmt.Errorf("-storage is required for seed-binding")
	}
	b := &namespace.Binding{
		StorageEnsemble: strings.Split(storage, ","),
		ACLRootPath:     aclRoot,
		Federated:       federated,
	}

	client := metaclient.NewBuilder(metaclient.BuilderConfig{
		Name:           appName,
		Ensemble:       namespace.EnsembleFromURI(uri),
		SessionTimeout: conf.MetadataSessionTimeout,
		RetryPolicy:    conf.MetadataRetry,
	}).Build()
	defer func() { _ = client.Close() }()

	if err := namespace.StoreBinding(ctx, client, uri, b); err != nil {
		return err
	}
	fmt.Printf("binding written for %s\n", uri)
	return nil
}

func withNamespace(ctx context.Context, conf *config.NamespaceConfig, uri *url.URL, fn func(*namespace.Namespace) error) error {
	n, err := namespace.Builder{
		Conf: conf,
		URI:  uri,
	}.Build(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = n.Close() }()
	return fn(n)
}
