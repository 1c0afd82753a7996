package browser

// stealthInitScript runs before any page script in headless sessions. It
// only patches what the portal's firewall is known to probe.
const stealthInitScript = `
try {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
} catch (e) {}

try {
	if (!window.chrome) window.chrome = {};
	if (!window.chrome.runtime) window.chrome.runtime = {};
} catch (e) {}

try {
	if (!navigator.languages || navigator.languages.length === 0) {
		Object.defineProperty(navigator, 'languages', { get: () => ['zh-CN', 'zh', 'en-US', 'en'] });
	}
} catch (e) {}

try {
	if (!navigator.plugins || navigator.plugins.length === 0) {
		const fakePlugins = [
			{ name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
			{ name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '' },
			{ name: 'Native Client', filename: 'internal-nacl-plugin', description: '' },
		];
		Object.defineProperty(navigator, 'plugins', { get: () => fakePlugins });
	}
} catch (e) {}

try {
	const originalQuery = navigator.permissions && navigator.permissions.query;
	if (originalQuery) {
		navigator.permissions.query = (parameters) => {
			if (parameters && parameters.name === 'notifications') {
				return Promise.resolve({ state: Notification.permission });
			}
			return originalQuery.call(navigator.permissions, parameters);
		};
	}
} catch (e) {}

try {
	if (window.outerWidth === 0) {
		Object.defineProperty(window, 'outerWidth', { get: () => window.innerWidth });
	}
	if (window.outerHeight === 0) {
		Object.defineProperty(window, 'outerHeight', { get: () => window.innerHeight + 85 });
	}
} catch (e) {}
`
