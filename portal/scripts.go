package portal

// Page scripts. Each is a function expression returning JSON.stringify(...);
// the shapes are decoded into the structs next to them.

// Marked fields get this attribute so later calls can use plain selectors.
const (
	markUser     = `[data-gradewatch='user']`
	markPassword = `[data-gradewatch='password']`
	markSubmit   = `[data-gradewatch='submit']`
	markRemember = `[data-gradewatch='remember']`
)

const visibleFn = `const visible = (el) => {
		if (!el) return false;
		const style = window.getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none') return false;
		return !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);
	};`

// probeScript reports the page as the login flow sees it. The HTML is
// inspected on the Go side.
const probeScript = `() => {
	` + visibleFn + `
	const first = (sel) => document.querySelector(sel);
	const pwd = first("input#password, input[name='password'], input[type='password']");
	let user = first("input#username, input[name='username'], input[name='userName'], input[autocomplete='username']");
	if (!user) user = first("input[type='text'], input[type='email'], input[type='tel']");
	const captcha = Array.from(document.querySelectorAll("#captchaDiv:not(.hide), input#captcha")).some(visible);
	return JSON.stringify({
		url: location.href,
		loginFormVisible: visible(pwd) && visible(user),
		captchaVisible: captcha,
		html: document.documentElement ? document.documentElement.outerHTML : '',
	});
}`

type probeResult struct {
	URL              string `json:"url"`
	LoginFormVisible bool   `json:"loginFormVisible"`
	CaptchaVisible   bool   `json:"captchaVisible"`
	HTML             string `json:"html"`
}

// continueScript clicks the duplicate-login continue link if there is one.
const continueScript = `() => {
	const link = Array.from(document.querySelectorAll('a')).find(a => (a.textContent || '').includes('点击此处'));
	if (link) link.click();
	return JSON.stringify(!!link);
}`

// markLegacyScript tags the first visible user, password and submit
// controls of a plain login form.
const markLegacyScript = `() => {
	` + visibleFn + `
	document.querySelectorAll('[data-gradewatch]').forEach(e => e.removeAttribute('data-gradewatch'));
	const pick = (sel) => Array.from(document.querySelectorAll(sel)).find(visible);
	let user = pick("input#username, input[name='username'], input[name='userName'], input[autocomplete='username']");
	if (!user) user = pick("input[type='text'], input[type='email'], input[type='tel']");
	const pwd = pick("input#password, input[name='password'], input[type='password']");
	let submit = document.querySelector("#login_submit, button#login_submit, button[type='submit'], input[type='submit']");
	if (!submit) submit = Array.from(document.querySelectorAll('button')).find(b => /登录|Login/.test(b.textContent || ''));
	if (user) user.setAttribute('data-gradewatch', 'user');
	if (pwd) pwd.setAttribute('data-gradewatch', 'password');
	if (submit) submit.setAttribute('data-gradewatch', 'submit');
	return JSON.stringify({ form: true, user: !!user, password: !!pwd, submit: !!submit });
}`

// idasTabScript switches IDAS from its default QR login to the
// username/password tab.
const idasTabScript = `() => {
	try {
		if (typeof showTabHeadAndDiv === 'function') {
			showTabHeadAndDiv('userNameLogin', 1);
			return JSON.stringify(true);
		}
	} catch (e) {}
	try {
		const a = document.querySelector('#userNameLogin_a');
		if (a) { a.click(); return JSON.stringify(true); }
	} catch (e) {}
	return JSON.stringify(false);
}`

// markIdasScript tags the IDAS password form controls and makes the
// password input editable.
const markIdasScript = `() => {
	` + visibleFn + `
	document.querySelectorAll('[data-gradewatch]').forEach(e => e.removeAttribute('data-gradewatch'));
	const form = document.querySelector('form#pwdFromId');
	if (!form) return JSON.stringify({ form: false });
	const user = form.querySelector("input[name='username'], input#username");
	const pwd = form.querySelector("input#password, input[name='passwordText'], input[type='password']");
	const submit = form.querySelector("#login_submit, a[onclick*='startLogin'], button[type='submit'], input[type='submit']");
	const remember = form.querySelector("input#rememberMe[type='checkbox']");
	if (pwd) {
		try { pwd.removeAttribute('readonly'); } catch (e) {}
		try { pwd.readOnly = false; } catch (e) {}
		try { pwd.disabled = false; } catch (e) {}
	}
	if (user) user.setAttribute('data-gradewatch', 'user');
	if (pwd) pwd.setAttribute('data-gradewatch', 'password');
	if (submit) submit.setAttribute('data-gradewatch', 'submit');
	if (remember) remember.setAttribute('data-gradewatch', 'remember');
	return JSON.stringify({
		form: true,
		user: !!user,
		password: !!pwd,
		submit: !!submit,
		remember: !!remember && visible(remember),
		rememberChecked: !!remember && remember.checked,
	});
}`

type loginControls struct {
	Form            bool `json:"form"`
	User            bool `json:"user"`
	Password        bool `json:"password"`
	Submit          bool `json:"submit"`
	Remember        bool `json:"remember"`
	RememberChecked bool `json:"rememberChecked"`
}

// tableScript finds a table. With a phrase it returns the innermost table
// among those matching selector whose text contains the phrase; without one,
// the first match. "first" is the page's first table, for the fallback.
const tableScript = `(selector, phrase) => {
	const tables = Array.from(document.querySelectorAll(selector));
	let hit = null;
	if (phrase) {
		const hits = tables.filter(t => (t.innerText || t.textContent || '').includes(phrase));
		hit = hits.find(t => !hits.some(o => o !== t && t.contains(o))) || null;
	} else {
		hit = tables[0] || null;
	}
	const first = document.querySelector('table');
	return JSON.stringify({
		found: !!hit,
		html: hit ? hit.outerHTML : '',
		first: first ? first.outerHTML : '',
	});
}`

type tableResult struct {
	Found bool   `json:"found"`
	HTML  string `json:"html"`
	First string `json:"first"`
}

// selectScript returns the outer HTML of the first element matching selector.
const selectScript = `(selector) => {
	const el = document.querySelector(selector);
	return JSON.stringify(el ? el.outerHTML : '');
}`
