// Пакет hashreader — декоратор io.Reader с инкрементальным подсчётом
// SHA-256 и количества прочитанных байт.
//
// Оборачивает исходный поток без буферизации: каждый байт, реально
// отданный потребителю, попадает в дайджест и счётчик. Память O(1)
// относительно длины потока. Используется пайплайном загрузки для
// вычисления hash и size за один проход записи контента.
package hashreader

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Reader — io.Reader, прозрачно считающий SHA-256 и размер потока.
// Не потокобезопасен: у потока загрузки ровно один последовательный читатель.
type Reader struct {
	src    io.Reader
	digest hash.Hash
	read   int64
}

// New создаёт Reader поверх исходного потока.
func New(src io.Reader) *Reader {
	return &Reader{
		src:    src,
		digest: sha256.New(),
	}
}

// Read читает из исходного потока и скармливает дайджесту ровно те байты,
// которые были отданы потребителю. Частичные чтения и завершающий io.EOF
// с ненулевым n учитываются корректно.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		// hash.Hash.Write не возвращает ошибок
		r.digest.Write(p[:n])
		r.read += int64(n)
	}
	return n, err
}

// Sum возвращает hex-представление SHA-256 по байтам, прочитанным
// с момента создания или последнего Reset. Вызывается после исчерпания потока.
func (r *Reader) Sum() string {
	return hex.EncodeToString(r.digest.Sum(nil))
}

// BytesRead возвращает количество байт, отданных потребителю
// с момента создания или последнего Reset.
func (r *Reader) BytesRead() int64 {
	return r.read
}

// Reset обнуляет дайджест и счётчик. Позицию исходного потока не трогает:
// вызывающий код, перемотавший источник (например io.Seeker), обязан
// вызвать Reset, чтобы hash отражал только байты после перемотки.
func (r *Reader) Reset() {
	r.digest.Reset()
	r.read = 0
}
