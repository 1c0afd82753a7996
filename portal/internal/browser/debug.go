package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// Dump lists the files written by DumpDiagnostics.
type Dump struct {
	URL        string
	HTML       string
	Markdown   string
	Screenshot string
}

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// DumpDiagnostics saves the current URL, HTML, a Markdown rendering of the
// HTML and a full-page screenshot into dir, all prefixed with the same
// timestamp. Artifacts that fail are skipped; the returned error joins their
// failures.
func (s *Session) DumpDiagnostics(ctx context.Context, dir string) (*Dump, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("browser: dump dir: %w", err)
	}
	prefix := filepath.Join(dir, nowFunc().Format("20060102_150405"))
	dump := &Dump{}
	var errs []error

	url := s.URL()
	if err := os.WriteFile(prefix+"_url.txt", []byte(url), 0o644); err != nil {
		errs = append(errs, err)
	} else {
		dump.URL = prefix + "_url.txt"
	}

	html, err := s.HTML(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("html: %w", err))
	} else {
		if err := os.WriteFile(prefix+"_page.html", []byte(html), 0o644); err != nil {
			errs = append(errs, err)
		} else {
			dump.HTML = prefix + "_page.html"
		}
		md, err := mdConverter.ConvertString(html, converter.WithDomain(url))
		if err != nil {
			errs = append(errs, fmt.Errorf("markdown: %w", err))
		} else if err := os.WriteFile(prefix+"_page.md", []byte(md), 0o644); err != nil {
			errs = append(errs, err)
		} else {
			dump.Markdown = prefix + "_page.md"
		}
	}

	p, cancel := s.timeout(ctx, s.opts.DefaultTimeout)
	defer cancel()
	png, err := p.Screenshot(true, nil)
	if err != nil {
		errs = append(errs, fmt.Errorf("screenshot: %w", err))
	} else if err := os.WriteFile(prefix+"_screenshot.png", png, 0o644); err != nil {
		errs = append(errs, err)
	} else {
		dump.Screenshot = prefix + "_screenshot.png"
	}

	if len(errs) > 0 {
		s.log.Warn("browser: partial debug dump", "dir", dir, "error", errors.Join(errs...))
	}
	return dump, errors.Join(errs...)
}

const fingerprintScript = `() => {
	function safe(fn, fallback) {
		try { return fn(); } catch (e) { return fallback; }
	}
	const nav = navigator;
	const data = {};

	data.userAgent = safe(() => nav.userAgent, null);
	data.platform = safe(() => nav.platform, null);
	data.webdriver = safe(() => nav.webdriver, null);
	data.languages = safe(() => nav.languages, null);
	data.language = safe(() => nav.language, null);
	data.hardwareConcurrency = safe(() => nav.hardwareConcurrency, null);
	data.deviceMemory = safe(() => nav.deviceMemory, null);
	data.pluginsLength = safe(() => nav.plugins && nav.plugins.length, null);
	data.mimeTypesLength = safe(() => nav.mimeTypes && nav.mimeTypes.length, null);
	data.maxTouchPoints = safe(() => nav.maxTouchPoints, null);
	data.cookieEnabled = safe(() => nav.cookieEnabled, null);
	data.timezone = safe(() => Intl.DateTimeFormat().resolvedOptions().timeZone, null);

	data.chrome = safe(() => {
		const c = window.chrome;
		return {
			exists: !!c,
			runtime: !!(c && c.runtime),
			app: !!(c && c.app),
			csi: !!(c && c.csi),
			loadTimes: !!(c && c.loadTimes),
		};
	}, null);

	data.screen = safe(() => ({
		width: screen.width,
		height: screen.height,
		availWidth: screen.availWidth,
		availHeight: screen.availHeight,
		colorDepth: screen.colorDepth,
		pixelDepth: screen.pixelDepth,
	}), null);

	data.window = safe(() => ({
		innerWidth: window.innerWidth,
		innerHeight: window.innerHeight,
		outerWidth: window.outerWidth,
		outerHeight: window.outerHeight,
		devicePixelRatio: window.devicePixelRatio,
	}), null);

	data.userAgentData = safe(() => {
		const uad = nav.userAgentData;
		if (!uad) return null;
		return { mobile: uad.mobile, platform: uad.platform, brands: uad.brands };
	}, null);

	data.permissions = safe(() => {
		const perms = nav.permissions;
		if (!perms || !perms.query) return null;
		return { hasQuery: true };
	}, null);

	data.webgl = safe(() => {
		const canvas = document.createElement('canvas');
		const gl = canvas.getContext('webgl') || canvas.getContext('experimental-webgl');
		if (!gl) return { available: false };
		const dbg = gl.getExtension('WEBGL_debug_renderer_info');
		const vendor = dbg ? gl.getParameter(dbg.UNMASKED_VENDOR_WEBGL) : gl.getParameter(gl.VENDOR);
		const renderer = dbg ? gl.getParameter(dbg.UNMASKED_RENDERER_WEBGL) : gl.getParameter(gl.RENDERER);
		return { available: true, vendor, renderer };
	}, null);

	return JSON.stringify(data);
}`

// Fingerprint evaluates a probe of the automation-visible browser surface
// on the current page and returns it as indented JSON.
func (s *Session) Fingerprint(ctx context.Context) (string, error) {
	var raw json.RawMessage
	if err := s.Eval(ctx, fingerprintScript, &raw); err != nil {
		return "", err
	}
	return PrettyJSON(raw), nil
}

// PrettyJSON indents raw, or returns it unchanged if it is not JSON.
func PrettyJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
