// qfsctl is the command-line client for a quorumfs server.
//
// Usage:
//
//	qfsctl -addr host:port <command> [args]
//
// Commands:
//
//	create-file <path>
//	create-dir <path>
//	write <path> <file|->     write local file (or stdin) contents
//	append <path> <file|->    append local file (or stdin) contents
//	read <path>               print file contents to stdout
//	ls <path>                 list directory entries
//	rm <path>                 delete a file
//	rmdir <path>              delete an empty directory
//	mv <old> <new>            rename a file or directory
//	stat <path>               print file metadata
//	exists <path>             exit 0 if present, 3 if absent
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/quorumfs/quorumfs/pkg/client"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9600", "server address (host:port)")
	timeout := flag.Duration("timeout", 30*time.Second, "per-request timeout")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cl := client.New(*addr, client.WithTimeout(*timeout))
	defer func() { _ = cl.Close() }()

	code, err := dispatch(cl, args[0], args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "qfsctl: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

func dispatch(cl *client.Client, cmd string, args []string) (int, error) {
	switch cmd {
	case "create-file":
		path, err := one(cmd, args)
		if err != nil {
			return 2, err
		}
		return 0, cl.CreateFile(path)

	case "create-dir":
		path, err := one(cmd, args)
		if err != nil {
			return 2, err
		}
		return 0, cl.CreateDir(path)

	case "write", "append":
		if len(args) != 2 {
			return 2, fmt.Errorf("%s needs <path> <file|->", cmd)
		}
		data, err := readInput(args[1])
		if err != nil {
			return 1, err
		}
		if cmd == "write" {
			return 0, cl.WriteFile(args[0], data)
		}
		return 0, cl.AppendFile(args[0], data)

	case "read":
		path, err := one(cmd, args)
		if err != nil {
			return 2, err
		}
		data, err := cl.ReadFile(path)
		if err != nil {
			return 1, err
		}
		_, err = os.Stdout.Write(data)
		return 0, err

	case "ls":
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else if len(args) > 1 {
			return 2, fmt.Errorf("ls takes at most one path")
		}
		entries, err := cl.ListDir(path)
		if err != nil {
			return 1, err
		}
		for _, name := range entries {
			fmt.Println(name)
		}
		return 0, nil

	case "rm":
		path, err := one(cmd, args)
		if err != nil {
			return 2, err
		}
		return 0, cl.DeleteFile(path)

	case "rmdir":
		path, err := one(cmd, args)
		if err != nil {
			return 2, err
		}
		return 0, cl.DeleteDir(path)

	case "mv":
		if len(args) != 2 {
			return 2, fmt.Errorf("mv needs <old> <new>")
		}
		return 0, cl.Rename(args[0], args[1])

	case "stat":
		path, err := one(cmd, args)
		if err != nil {
			return 2, err
		}
		info, err := cl.Stat(path)
		if err != nil {
			return 1, err
		}
		kind := "file"
		if info.IsDirectory {
			kind = "directory"
		}
		fmt.Printf("name: %s\ntype: %s\nsize: %d\nmtime: %s\n",
			info.Name, kind, info.Size,
			time.Unix(info.ModTimeUnix, 0).UTC().Format(time.RFC3339))
		return 0, nil

	case "exists":
		path, err := one(cmd, args)
		if err != nil {
			return 2, err
		}
		ok, err := cl.Exists(path)
		if err != nil {
			return 1, err
		}
		if !ok {
			return 3, nil
		}
		return 0, nil

	default:
		return 2, fmt.Errorf("unknown command %q", cmd)
	}
}

func one(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s needs exactly one path", cmd)
	}
	return args[0], nil
}

func readInput(source string) ([]byte, error) {
	if source == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(source)
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: qfsctl [-addr host:port] [-timeout d] <command> [args]

commands:
  create-file <path>
  create-dir <path>
  write <path> <file|->
  append <path> <file|->
  read <path>
  ls [path]
  rm <path>
  rmdir <path>
  mv <old> <new>
  stat <path>
  exists <path>
`)
}
