package smtp

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"

	"dropmail/backend/internal/domain"
)

// ParsedEmail 表示解析后的邮件内容。附件只保留元数据，不保留内容字节。
type ParsedEmail struct {
	Subject     string
	From        string
	To          string
	Text        string
	HTML        string
	Headers     []domain.Header
	Attachments []domain.Attachment
}

// ParseEmail 解析一次 SMTP DATA 载荷，提取主题、正文与附件元数据。
//
// 解析是尽力而为的：无法完整解析的 MIME 结构不会导致整封邮件被拒，
// 而是保留已解析出的部分（至少是邮件头），正文留空。解码只做 CPU
// 运算，不做任何网络或存储 I/O。
func ParseEmail(rawEmail []byte) *ParsedEmail {
	parsed := &ParsedEmail{
		Headers:     collectHeaders(rawEmail),
		Attachments: make([]domain.Attachment, 0),
	}

	msg, err := mail.ReadMessage(bytes.NewReader(rawEmail))
	if err != nil {
		// 头部损坏到无法解析：按策略接收邮件本身，所有字段留空
		return parsed
	}

	parsed.Subject = decodeHeader(msg.Header.Get("Subject"))
	parsed.From = msg.Header.Get("From")
	parsed.To = msg.Header.Get("To")

	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// 没有 Content-Type 或解析失败，当作纯文本处理
		body, _ := io.ReadAll(msg.Body)
		parsed.Text = string(body)
		return parsed
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return parsed
		}
		// 对损坏的部分只跳过，不让整封邮件解析失败
		parseMultipart(multipart.NewReader(msg.Body, boundary), parsed)
		return parsed
	}

	body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), params["charset"])
	if err != nil {
		return parsed
	}
	if strings.HasPrefix(mediaType, "text/html") {
		parsed.HTML = body
	} else {
		parsed.Text = body
	}
	return parsed
}

// parseMultipart 递归解析多部分邮件。
func parseMultipart(mr *multipart.Reader, parsed *ParsedEmail) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			// io.EOF 是正常结束；其余错误说明剩余部分已不可解析
			return
		}

		contentType := part.Header.Get("Content-Type")
		mediaType, params, err := mime.ParseMediaType(contentType)
		if err != nil {
			mediaType = "text/plain"
		}

		disposition := part.Header.Get("Content-Disposition")
		if disposition != "" {
			dispType, dispParams, _ := mime.ParseMediaType(disposition)
			if dispType == "attachment" || dispType == "inline" {
				filename := dispParams["filename"]
				if filename == "" {
					filename = params["name"]
				}
				if filename == "" {
					filename = "unnamed"
				}
				filename = decodeHeader(filename)

				// 读取内容只为测量大小，字节本身不随 Message 入库
				content, err := io.ReadAll(part)
				if err != nil {
					continue
				}
				if strings.EqualFold(part.Header.Get("Content-Transfer-Encoding"), "base64") {
					if decoded, err := base64.StdEncoding.DecodeString(string(content)); err == nil {
						content = decoded
					}
				}

				parsed.Attachments = append(parsed.Attachments, domain.Attachment{
					Filename:    filename,
					ContentType: mediaType,
					SizeBytes:   int64(len(content)),
				})
				continue
			}
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if boundary := params["boundary"]; boundary != "" {
				parseMultipart(multipart.NewReader(part, boundary), parsed)
			}
			continue
		}

		body, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			continue
		}

		if strings.HasPrefix(mediaType, "text/html") {
			if parsed.HTML == "" {
				parsed.HTML = body
			}
		} else if strings.HasPrefix(mediaType, "text/plain") {
			if parsed.Text == "" {
				parsed.Text = body
			}
		}
	}
}

// collectHeaders 按出现顺序收集原始邮件头。
// net/mail 的 Header 是无序 map，这里手动扫描头部块以保留顺序；
// 同名头合并为一个条目，值按出现顺序追加。
func collectHeaders(rawEmail []byte) []domain.Header {
	headers := make([]domain.Header, 0, 16)
	index := make(map[string]int)

	scanner := bufio.NewScanner(bytes.NewReader(rawEmail))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var name, value string
	flush := func() {
		if name == "" {
			return
		}
		key := strings.ToLower(name)
		if i, ok := index[key]; ok {
			headers[i].Values = append(headers[i].Values, value)
		} else {
			index[key] = len(headers)
			headers = append(headers, domain.Header{Name: name, Values: []string{value}})
		}
		name, value = "", ""
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break // 头部块结束
		}
		if line[0] == ' ' || line[0] == '\t' {
			// 续行（折叠头）
			value += " " + strings.TrimSpace(line)
			continue
		}
		flush()
		colon := strings.Index(line, ":")
		if colon < 0 {
			continue
		}
		name = strings.TrimSpace(line[:colon])
		value = strings.TrimSpace(line[colon+1:])
	}
	flush()

	return headers
}

// decodeBody 根据传输编码与字符集解码邮件体。
func decodeBody(reader io.Reader, transferEncoding string, charset string) (string, error) {
	transferEncoding = strings.ToLower(strings.TrimSpace(transferEncoding))

	var decoded io.Reader
	switch transferEncoding {
	case "base64":
		decoded = base64.NewDecoder(base64.StdEncoding, reader)
	case "quoted-printable":
		decoded = quotedprintable.NewReader(reader)
	default:
		// 7bit/8bit/binary 以及未知编码直接读取
		decoded = reader
	}

	body, err := io.ReadAll(decoded)
	if err != nil {
		return "", err
	}

	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset != "" && charset != "utf-8" && charset != "us-ascii" {
		if enc := getCharsetEncoding(charset); enc != nil {
			if converted, _, err := transform.Bytes(enc.NewDecoder(), body); err == nil {
				body = converted
			}
		}
	}

	return string(body), nil
}

// getCharsetEncoding 根据字符集名称返回编码器。
func getCharsetEncoding(charset string) encoding.Encoding {
	switch charset {
	case "gb2312", "gbk", "gb18030":
		return simplifiedchinese.GBK
	case "big5":
		return traditionalchinese.Big5
	case "iso-2022-jp", "shift_jis", "euc-jp":
		return japanese.ShiftJIS
	case "euc-kr", "ks_c_5601-1987":
		return korean.EUCKR
	default:
		return nil
	}
}

// decodeHeader 解码 RFC 2047 编码的头部值。
func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoder := new(mime.WordDecoder)
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
