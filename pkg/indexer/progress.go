// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package indexer

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
)

// progressBar renders a single-line bar to a writer as files complete.
type progressBar struct {
	mu    sync.Mutex
	out   io.Writer
	bar   progress.Model
	total int
	done  int
}

func newProgressBar(out io.Writer, total int) *progressBar {
	if out == nil || total == 0 {
		return nil
	}
	p := &progressBar{
		out:   out,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		total: total,
	}
	p.render()
	return p
}

func (p *progressBar) increment() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	p.render()
}

func (p *progressBar) finish() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out)
}

func (p *progressBar) render() {
	pct := float64(p.done) / float64(p.total)
	fmt.Fprintf(p.out, "\r%s %d/%d", p.bar.ViewAs(pct), p.done, p.total)
}
