// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// settleDelay is how long layout gets to stabilize after the document body
// is ready before a screenshot is taken. Network idleness is not awaited.
const settleDelay = 500 * time.Millisecond

// overflowScript enumerates elements under the app root and reports those
// whose content is wider than their box while overflow-x stays visible.
// Elements that scroll (auto/scroll/hidden) manage their own overflow and
// are not offenders.
const overflowScript = `(() => {
	const root = document.querySelector('#__next, #root, main, body');
	const offenders = [];
	const selectorFor = (el) => {
		if (el.id) return '#' + el.id;
		let sel = el.tagName.toLowerCase();
		if (el.classList.length > 0) sel += '.' + [...el.classList].slice(0, 3).join('.');
		return sel;
	};
	for (const el of root.querySelectorAll('*')) {
		const delta = el.scrollWidth - el.clientWidth;
		if (delta <= 2) continue;
		const overflowX = getComputedStyle(el).overflowX;
		if (overflowX !== 'visible') continue;
		offenders.push({
			selector: selectorFor(el),
			tag: el.tagName.toLowerCase(),
			scrollWidth: el.scrollWidth,
			clientWidth: el.clientWidth,
			overflowPx: delta,
			figmaNodeId: el.getAttribute('data-figma-node-id') || ''
		});
	}
	return offenders;
})()`

// ChromeCapturer implements Capturer on a headless Chrome instance.
//
// Description:
//
//	Holds one long-lived browser allocator; every Screenshot/ScanOverflow
//	call opens a fresh tab context sized to the requested viewport and
//	closes it when done.
type ChromeCapturer struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	timeout     time.Duration
	logger      *slog.Logger
}

// NewChromeCapturer starts a headless browser allocator.
//
// Inputs:
//
//	timeout - Per-capture deadline. If zero, 30s.
//	logger - Logger. If nil, slog.Default().
//
// Outputs:
//
//	*ChromeCapturer - Ready capturer. Call Close when done.
func NewChromeCapturer(timeout time.Duration, logger *slog.Logger) *ChromeCapturer {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(),
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
		)...,
	)
	return &ChromeCapturer{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		timeout:     timeout,
		logger:      logger,
	}
}

// Close tears down the browser allocator.
func (c *ChromeCapturer) Close() {
	c.allocCancel()
}

// Screenshot implements Capturer.
func (c *ChromeCapturer) Screenshot(ctx context.Context, url string, vp Viewport) ([]byte, error) {
	tabCtx, cancel, err := c.newTab(ctx, vp)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var png []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(settleDelay),
		chromedp.CaptureScreenshot(&png),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	c.logger.Debug("screenshot captured",
		slog.String("url", url),
		slog.Int("width", vp.Width),
		slog.Int("height", vp.Height),
		slog.Int("bytes", len(png)),
	)
	return png, nil
}

// ScanOverflow implements Capturer.
func (c *ChromeCapturer) ScanOverflow(ctx context.Context, url string, vp Viewport) ([]Offender, error) {
	tabCtx, cancel, err := c.newTab(ctx, vp)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var offenders []Offender
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(settleDelay),
		chromedp.Evaluate(overflowScript, &offenders),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOverflowScanFailed, err)
	}
	return offenders, nil
}

// newTab opens a fresh browser context sized to the viewport.
func (c *ChromeCapturer) newTab(ctx context.Context, vp Viewport) (context.Context, context.CancelFunc, error) {
	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx)
	timeoutCtx, timeoutCancel := context.WithTimeout(tabCtx, c.timeout)

	cancel := func() {
		timeoutCancel()
		tabCancel()
	}

	// Honor the caller's cancellation on top of the allocator lineage.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-timeoutCtx.Done():
		}
	}()

	dsf := vp.DeviceScaleFactor
	if dsf == 0 {
		dsf = 1
	}
	if err := chromedp.Run(timeoutCtx,
		emulation.SetDeviceMetricsOverride(int64(vp.Width), int64(vp.Height), dsf, false),
	); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w: %v", ErrBrowserUnavailable, err)
	}
	return timeoutCtx, cancel, nil
}
