// Package ipxe builds the iPXE scripts served to booting machines.
package ipxe

import (
	"errors"
	"net/url"
	"strings"

	"pxepilot/pkg/render"
)

// Placeholders recognised in configured URL templates.
const (
	MACToken = "${mac}"
	IPToken  = "${ip}"
)

const (
	chainTemplate     = "chain.ipxe.tmpl"
	installerTemplate = "installer.ipxe.tmpl"
	localDiskTemplate = "localdisk.ipxe.tmpl"
)

// InstallerURLs holds the URL templates used by the installer script. Each may
// embed MACToken and IPToken.
type InstallerURLs struct {
	Kernel      string
	Initrd      string
	Autoinstall string
}

// Scripts renders chain, installer and local-disk scripts.
type Scripts struct {
	engine *render.Engine
	urls   InstallerURLs
}

// NewScripts returns a Scripts backed by engine. All installer URL templates are required.
func NewScripts(engine *render.Engine, urls InstallerURLs) (*Scripts, error) {
	if engine == nil {
		return nil, errors.New("render engine is required")
	}
	for _, name := range []string{chainTemplate, installerTemplate, localDiskTemplate} {
		if !engine.Has(name) {
			return nil, errors.New("missing template " + name)
		}
	}
	if urls.Kernel == "" || urls.Initrd == "" || urls.Autoinstall == "" {
		return nil, errors.New("kernel, initrd and autoinstall URL templates are required")
	}
	return &Scripts{engine: engine, urls: urls}, nil
}

// Chain renders the bootstrap script that sends the firmware to
// <base>/boot?mac=${mac}. If the boot server cannot be reached the script
// exits so the firmware moves on to its next configured boot device.
func (s *Scripts) Chain(baseURL string) (string, error) {
	return s.engine.Render(chainTemplate, struct{ BootURL string }{
		BootURL: strings.TrimRight(baseURL, "/") + "/boot",
	})
}

// Installer renders the OS installer script for the machine with the given
// MAC booting from clientIP.
func (s *Scripts) Installer(mac, clientIP string) (string, error) {
	return s.engine.Render(installerTemplate, struct {
		KernelURL      string
		InitrdURL      string
		AutoinstallURL string
	}{
		KernelURL:      ResolveURL(s.urls.Kernel, mac, clientIP),
		InitrdURL:      ResolveURL(s.urls.Initrd, mac, clientIP),
		AutoinstallURL: ResolveURL(s.urls.Autoinstall, mac, clientIP),
	})
}

// LocalDisk renders the script that boots the first local disk (BIOS drive 0x80).
func (s *Scripts) LocalDisk() (string, error) {
	return s.engine.Render(localDiskTemplate, nil)
}

// ResolveURL replaces every MACToken and IPToken in tmpl with the
// percent-encoded mac and clientIP. Templates without tokens are returned
// unchanged.
func ResolveURL(tmpl, mac, clientIP string) string {
	return strings.NewReplacer(
		MACToken, escape(mac),
		IPToken, escape(clientIP),
	).Replace(tmpl)
}

// escape percent-encodes everything except unreserved characters.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
