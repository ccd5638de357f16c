package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	// "peer" checks one "ip:port:index" identity, "peerlist" a comma
	// separated list of them.
	_ = validate.RegisterValidation("peer", func(fl validator.FieldLevel) bool {
		return validPeer(fl.Field().String())
	})
	_ = validate.RegisterValidation("peerlist", func(fl validator.FieldLevel) bool {
		return validPeerList(fl.Field().String())
	})
}

// Validate checks struct tags plus the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// The node must be a member of the group it bootstraps.
	if !peerListContains(cfg.InitialConf, cfg.PeerAddr) {
		return fmt.Errorf("peer_addr %q does not appear in initial_conf", cfg.PeerAddr)
	}

	if cfg.BasePath == cfg.RaftPath {
		return fmt.Errorf("base_path and raft_path must be distinct directories")
	}
	return nil
}

func validPeer(peer string) bool {
	i := strings.LastIndex(peer, ":")
	if i < 0 {
		return false
	}
	if _, err := strconv.Atoi(peer[i+1:]); err != nil {
		return false
	}
	_, _, err := net.SplitHostPort(peer[:i])
	return err == nil
}

func validPeerList(list string) bool {
	seen := false
	for _, peer := range strings.Split(list, ",") {
		peer = strings.TrimSpace(peer)
		if peer == "" {
			continue
		}
		if !validPeer(peer) {
			return false
		}
		seen = true
	}
	return seen
}

func peerListContains(list, peer string) bool {
	for _, p := range strings.Split(list, ",") {
		if strings.TrimSpace(p) == peer {
			return true
		}
	}
	return false
}

func formatValidationError(err error) error {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		e := errs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
