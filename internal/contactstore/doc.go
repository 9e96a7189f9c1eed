// Package contactstore 维护链下加密通讯录：整份联系人列表经 secretbox
// 加密后上传到 Walrus，账户到 blob ID 的映射保存在可替换的索引中。
package contactstore
