// Package spoof builds forged routing advertisements (DIOs) and hands them
// to the routing layer for injection.
//
// A forged DIO asserts that Target has Parent as its preferred parent at the
// given Rank. After a successful injection whose parent is not the root
// itself, the spoofer arms the acknowledgment sniffer for the target's
// link-layer address so the MAC layer can report when the target answered.
package spoof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kabili207/whisper-go/core/addr"
	"github.com/kabili207/whisper-go/core/codec"
	"github.com/kabili207/whisper-go/core/sniffer"
)

var (
	ErrNoInjector = errors.New("no routing injector configured")
)

// Advertisement is a forged DIO. NextHop always equals Target.
type Advertisement struct {
	Target  addr.Address
	Parent  addr.Address
	NextHop addr.Address
	Rank    uint16
}

// Injector is the routing layer primitive that emits an advertisement.
type Injector interface {
	InjectDIO(ctx context.Context, adv Advertisement) error
}

// InjectorFunc adapts a function to the Injector interface.
type InjectorFunc func(ctx context.Context, adv Advertisement) error

// InjectDIO calls f(ctx, adv).
func (f InjectorFunc) InjectDIO(ctx context.Context, adv Advertisement) error {
	return f(ctx, adv)
}

// Build derives the advertisement described by cmd from the local identity.
func Build(id addr.Identity, cmd codec.SpoofDio) Advertisement {
	target := addr.Build(id, cmd.TargetSuffix)
	return Advertisement{
		Target:  target,
		Parent:  addr.Build(id, cmd.ParentSuffix),
		NextHop: target,
		Rank:    cmd.Rank,
	}
}

// Config configures a Spoofer.
type Config struct {
	// Identity is the root node's own address material.
	Identity addr.Identity
	// Injector emits advertisements. Required.
	Injector Injector
	// Sniffer is armed after successful injections. Required.
	Sniffer *sniffer.Sniffer
	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Spoofer turns SpoofDio commands into injected advertisements.
type Spoofer struct {
	cfg Config
	log *slog.Logger
}

// New creates a Spoofer.
func New(cfg Config) *Spoofer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Spoofer{
		cfg: cfg,
		log: logger.WithGroup("spoof"),
	}
}

// Spoof builds and injects the advertisement described by cmd. The
// advertisement is returned even when injection fails. The sniffer is armed
// for the target's link-layer address only when injection succeeded and the
// forged parent is not this node; otherwise it is disarmed.
func (s *Spoofer) Spoof(ctx context.Context, cmd codec.SpoofDio) (Advertisement, error) {
	adv := Build(s.cfg.Identity, cmd)

	if s.cfg.Injector == nil {
		s.cfg.Sniffer.Disarm()
		return adv, ErrNoInjector
	}

	s.log.Info("sending fake DIO",
		"target", adv.Target,
		"parent", adv.Parent,
		"rank", adv.Rank,
	)

	if err := s.cfg.Injector.InjectDIO(ctx, adv); err != nil {
		s.cfg.Sniffer.Disarm()
		return adv, fmt.Errorf("injecting DIO: %w", err)
	}

	if s.cfg.Identity.IsMine(adv.Parent) {
		s.log.Debug("parent is self, not sniffing for ACK")
		s.cfg.Sniffer.Disarm()
		return adv, nil
	}

	s.cfg.Sniffer.Arm(adv.Target.LinkLayer())
	return adv, nil
}
