package delivery

import (
	"fmt"

	"github.com/selahapp/identity/internal/security"
)

// Templates はHTMLメール本文の組み立てを提供する。
// ユーザー入力値（ユーザー名等）はサニタイズしてから埋め込む。
type Templates struct {
	sanitizer security.ValueSanitizer
}

// NewTemplates はTemplatesを生成する。
func NewTemplates(sanitizer security.ValueSanitizer) *Templates {
	return &Templates{sanitizer: sanitizer}
}

// VerificationEmail はメールアドレス検証メールの件名と本文を返す。
// linkは平文トークンを含む確認リンク（トークンはこのメール以外に表示されない）。
func (t *Templates) VerificationEmail(username, link string) (subject, body string) {
	name := t.sanitizer.Sanitize(username)
	subject = "メールアドレスの確認"
	body = fmt.Sprintf(
		`<p>%sさん</p>
<p>以下のリンクを開いて、メールアドレスの確認を完了してください。リンクの有効期限は24時間です。</p>
<p><a href="%s">メールアドレスを確認する</a></p>
<p>このメールに心当たりがない場合は、破棄してください。</p>`,
		name, link,
	)
	return subject, body
}

// MagicCodeEmail はパスワードレスログイン用コードのメールの件名と本文を返す。
func (t *Templates) MagicCodeEmail(code string) (subject, body string) {
	subject = "ログインコード"
	body = fmt.Sprintf(
		`<p>ログインコード: <strong>%s</strong></p>
<p>コードの有効期限は15分です。入力できるのは1回だけです。</p>
<p>このメールに心当たりがない場合は、破棄してください。</p>`,
		code,
	)
	return subject, body
}

// PasswordResetEmail はパスワードリセットメールの件名と本文を返す。
func (t *Templates) PasswordResetEmail(username, link string) (subject, body string) {
	name := t.sanitizer.Sanitize(username)
	subject = "パスワードの再設定"
	body = fmt.Sprintf(
		`<p>%sさん</p>
<p>以下のリンクからパスワードを再設定できます。リンクの有効期限は1時間です。</p>
<p><a href="%s">パスワードを再設定する</a></p>
<p>このメールに心当たりがない場合は、破棄してください。</p>`,
		name, link,
	)
	return subject, body
}

// SMSVerificationMessage はSMS検証コードのメッセージ本文を返す。
func (t *Templates) SMSVerificationMessage(code string) string {
	return fmt.Sprintf("確認コード: %s", code)
}
